package rtlog_test

import (
	"reflect"
	"testing"

	"github.com/psac-run/psac/internal/rtlog"
)

type outputBuffer struct {
	messages []string
}

func (o *outputBuffer) Output(calldepth int, s string) error {
	o.messages = append(o.messages, s)
	return nil
}

func TestLogger(t *testing.T) {
	var b1, b2 outputBuffer
	l1 := rtlog.New(&b1, rtlog.InfoLevel)
	l2 := l1.Tee(&b2, "two: ")
	l1.Printf("hello, world")
	l2.Error("error")

	if got, want := b1.messages, ([]string{"hello, world", "two: error"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b2.messages, ([]string{"error"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLevels(t *testing.T) {
	var b outputBuffer
	l := rtlog.New(&b, rtlog.ErrorLevel)
	l.Print("dropped")
	l.Debug("dropped too")
	l.Error("kept")
	if got, want := b.messages, ([]string{"kept"}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if l.At(rtlog.InfoLevel) {
		t.Error("logger reports being at InfoLevel")
	}
	if !l.At(rtlog.ErrorLevel) {
		t.Error("logger reports not being at its own level")
	}
}

func TestNilLogger(t *testing.T) {
	var l *rtlog.Logger
	l.Print("should not panic")
	if l.At(rtlog.ErrorLevel) {
		t.Error("nil logger reports being at a level")
	}
}
