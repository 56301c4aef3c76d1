package util

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gookit/slog"
)

// EnterWorkDir switches to the executable's directory so relative paths
// (config.ini, registry file, http.log) resolve next to the binary.
func EnterWorkDir() {
	fullpath, err := os.Executable()
	if err != nil {
		panic(err)
	}
	dir, _ := filepath.Split(fullpath)
	err = os.Chdir(dir)
	if err != nil {
		panic(err)
	}
	currentDir, _ := os.Getwd()
	fmt.Printf("working directory: %s\n", currentDir)
}

// TimeCost returns a closure that logs elapsed time since the call.
func TimeCost() func(str string) {
	start := time.Now()
	return func(str string) {
		slog.Infof("%s, took %dms", str, time.Since(start).Milliseconds())
	}
}
