package utils

import (
	"fmt"
	"io"
	"log"
	"os"
)

const logFlags = log.Ldate | log.Ltime | log.Lshortfile

var (
	infoLogger    = log.New(os.Stdout, "INFO: ", logFlags)
	warningLogger = log.New(os.Stdout, "WARNING: ", logFlags)
	errorLogger   = log.New(os.Stderr, "ERROR: ", logFlags)
)

func InitLogger() {
	infoLogger = log.New(os.Stdout, "INFO: ", logFlags)
	warningLogger = log.New(os.Stdout, "WARNING: ", logFlags)
	errorLogger = log.New(os.Stderr, "ERROR: ", logFlags)
}

// SetLogOutput redirects every level to w. Tests use it to silence or capture logs.
func SetLogOutput(w io.Writer) {
	infoLogger.SetOutput(w)
	warningLogger.SetOutput(w)
	errorLogger.SetOutput(w)
}

func LogInfo(message string) {
	infoLogger.Output(2, message)
}

func LogInfof(format string, args ...interface{}) {
	infoLogger.Output(2, fmt.Sprintf(format, args...))
}

func LogWarning(message string) {
	warningLogger.Output(2, message)
}

func LogWarningf(format string, args ...interface{}) {
	warningLogger.Output(2, fmt.Sprintf(format, args...))
}

func LogError(message string, err error) {
	if err != nil {
		errorLogger.Output(2, fmt.Sprintf("%s: %v", message, err))
	} else {
		errorLogger.Output(2, message)
	}
}

func LogFatal(message string, err error) {
	if err != nil {
		errorLogger.Fatalf("%s: %v", message, err)
	} else {
		errorLogger.Fatal(message)
	}
}
