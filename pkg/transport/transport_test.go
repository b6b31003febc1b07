package transport

import (
	"errors"
	"testing"
)

func TestCloseInfoCleanCodes(t *testing.T) {
	code, reason, clean := CloseInfo(&CloseError{Code: CloseNormal, Reason: "bye"})
	if code != CloseNormal || reason != "bye" || !clean {
		t.Fatalf("normal close: got code=%d reason=%q clean=%v", code, reason, clean)
	}

	_, _, clean = CloseInfo(&CloseError{Code: CloseGoingAway})
	if !clean {
		t.Fatal("going-away close should be clean")
	}

	code, _, clean = CloseInfo(&CloseError{Code: 1011, Reason: "server error"})
	if clean || code != 1011 {
		t.Fatalf("server-error close: got code=%d clean=%v", code, clean)
	}
}

func TestCloseInfoPlainErrorIsAbnormal(t *testing.T) {
	code, reason, clean := CloseInfo(errors.New("broken pipe"))
	if clean || code != CloseAbnormal || reason != "broken pipe" {
		t.Fatalf("got code=%d reason=%q clean=%v", code, reason, clean)
	}
}
