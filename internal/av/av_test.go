package av

import "testing"

func TestReadAACSpecificConfigMatchesPublishedHeader(t *testing.T) {
	// FLV audio tag AF 00 12 10: soundFormat=10 (AAC), AACPacketType=0
	// (sequence header), AudioSpecificConfig = 12 10.
	cfg, ok := ReadAACSpecificConfig([]byte{0x12, 0x10})
	if !ok {
		t.Fatalf("expected successful parse")
	}

	if AACProfileName(cfg.AudioObjectType) != "LC" {
		t.Fatalf("expected LC profile, got %s (objType=%d)", AACProfileName(cfg.AudioObjectType), cfg.AudioObjectType)
	}
	if cfg.SampleRate != 44100 {
		t.Fatalf("expected sample rate 44100, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 2 {
		t.Fatalf("expected 2 channels, got %d", cfg.Channels)
	}
}

func TestReadAVCSpecificConfigRejectsBadVersion(t *testing.T) {
	if _, ok := ReadAVCSpecificConfig([]byte{0x00, 0x64, 0x00, 0x1F, 0xFF, 0xE1}); ok {
		t.Fatalf("expected rejection of non-version-1 AVCDecoderConfigurationRecord")
	}
}

func TestAVCProfileName(t *testing.T) {
	if AVCProfileName(100) != "High" {
		t.Fatalf("expected High profile name for profile_idc 100")
	}
}

func TestReadHEVCSpecificConfigTooShort(t *testing.T) {
	if _, ok := ReadHEVCSpecificConfig([]byte{0x01, 0x02}); ok {
		t.Fatalf("expected rejection of too-short HEVC config")
	}
}
