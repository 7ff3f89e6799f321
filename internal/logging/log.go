// Package logging provides the leveled line logger used across the server.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var mutex sync.Mutex

func line(l string) {
	tm := time.Now()
	mutex.Lock()
	defer mutex.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), l)
}

func Warning(l string) {
	line("[WARNING] " + l)
}

func Info(l string) {
	line("[INFO] " + l)
}

func Error(err error) {
	line("[ERROR] " + err.Error())
}

func ErrorMessage(l string) {
	line("[ERROR] " + l)
}

var requestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

func Request(sessionID uint64, ip string, l string) {
	if requestsEnabled {
		line("[REQUEST] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + l)
	}
}

var debugEnabled = os.Getenv("LOG_DEBUG") == "YES"

func DebugEnabled() bool {
	return debugEnabled
}

func Debug(l string) {
	if debugEnabled {
		line("[DEBUG] " + l)
	}
}

func DebugSession(sessionID uint64, ip string, l string) {
	if debugEnabled {
		line("[DEBUG] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + l)
	}
}
