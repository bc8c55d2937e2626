package embedding

import (
	"errors"
	"strings"
	"testing"
)

func TestBatchError(t *testing.T) {
	var be BatchError
	if be.errOrNil() != nil {
		t.Fatal("empty batch error should be nil")
	}
	be.add(2, errors.New("boom"))
	be.add(0, errors.New("bad"))
	err := be.errOrNil()
	var target *BatchError
	if !errors.As(err, &target) {
		t.Fatalf("expected *BatchError, got %T", err)
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "2 item(s) failed: item 0: bad") {
		t.Errorf("message not ordered by index: %s", msg)
	}
}
