package admission

import "testing"

func TestLimiterEnforcesPerIPCap(t *testing.T) {
	l := NewLimiter(2, "")

	if !l.Add("203.0.113.1") {
		t.Fatal("expected first connection to be admitted")
	}
	if !l.Add("203.0.113.1") {
		t.Fatal("expected second connection to be admitted")
	}
	if l.Add("203.0.113.1") {
		t.Fatal("expected third connection to be rejected")
	}

	l.Remove("203.0.113.1")
	if !l.Add("203.0.113.1") {
		t.Fatal("expected a slot to free up after Remove")
	}
}

func TestLimiterExemptsWhitelistedIPs(t *testing.T) {
	l := NewLimiter(1, "203.0.113.0/24")

	if !l.Add("203.0.113.9") {
		t.Fatal("expected first connection from exempted ip to be admitted")
	}
	if !l.Add("203.0.113.9") {
		t.Fatal("expected exempted ip to bypass the cap entirely")
	}
}

func TestLimiterTracksIPsIndependently(t *testing.T) {
	l := NewLimiter(1, "")

	if !l.Add("198.51.100.1") {
		t.Fatal("expected first ip to be admitted")
	}
	if !l.Add("198.51.100.2") {
		t.Fatal("expected a different ip to have its own slot")
	}
}

func TestWhitelistEmptyAllowsEverything(t *testing.T) {
	w := NewWhitelist("")
	if !w.Allows("198.51.100.1") {
		t.Fatal("expected an empty whitelist to allow everything")
	}
}

func TestWhitelistWildcardAllowsEverything(t *testing.T) {
	w := NewWhitelist("*")
	if !w.Allows("198.51.100.1") {
		t.Fatal("expected a wildcard whitelist to allow everything")
	}
}

func TestWhitelistRestrictsToConfiguredRanges(t *testing.T) {
	w := NewWhitelist("10.0.0.0/8, 192.168.1.1")

	if !w.Allows("10.1.2.3") {
		t.Fatal("expected ip in cidr range to be allowed")
	}
	if !w.Allows("192.168.1.1") {
		t.Fatal("expected exact ip match to be allowed")
	}
	if w.Allows("203.0.113.5") {
		t.Fatal("expected ip outside every range to be rejected")
	}
}

func TestWhitelistRejectsUnparsableIP(t *testing.T) {
	w := NewWhitelist("10.0.0.0/8")
	if w.Allows("not-an-ip") {
		t.Fatal("expected an unparsable address to be rejected")
	}
}
