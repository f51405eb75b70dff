package xerrors

import (
	"errors"
	"io/fs"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			break
		}
	}
	return false
}

func frameFunc(pc uintptr) string {
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function
}

// New / Newf

func TestNew_ErrorMessage(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNew_StackContainsCaller(t *testing.T) {
	err := New("test")

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New error should have StackPCs")
	}
	if !stackContains(hs.StackPCs(), "TestNew_StackContainsCaller") {
		t.Fatal("stack should contain calling function")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("root %q missing", "mods")
	if err.Error() != `root "mods" missing` {
		t.Fatalf("Error() = %q", err.Error())
	}
}

// Wrap / Wrapf

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(errSentinel, "open manifest")
	if err.Error() != "open manifest: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should see through Wrap")
	}
}

func TestWrap_RecordsCallerPC(t *testing.T) {
	err := Wrapf(errSentinel, "hash %s", "a.jar")

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("Wrapf error should expose PC")
	}
	if fn := frameFunc(hp.PC()); !strings.Contains(fn, "TestWrap_RecordsCallerPC") {
		t.Fatalf("PC func = %q, want caller", fn)
	}
}

// Mark

func TestMark_MatchesKindAndCause(t *testing.T) {
	kind := errors.New("io failure")
	err := Mark(fs.ErrNotExist, kind, "hash core.jar")

	if !errors.Is(err, kind) {
		t.Fatal("errors.Is(kind) = false")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("errors.Is(cause) = false")
	}
	if err.Error() != "hash core.jar: file does not exist" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestMark_EmptyMessageUsesKind(t *testing.T) {
	kind := errors.New("not found")
	err := Mark(errSentinel, kind, "")
	if err.Error() != "not found: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestMark_NilCases(t *testing.T) {
	if Mark(nil, errSentinel, "x") != nil {
		t.Fatal("Mark(nil, ...) should be nil")
	}
	err := Mark(errSentinel, nil, "plain")
	if err.Error() != "plain: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

// WithStack / EnsureTrace

func TestWithStack_Nil(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestEnsureTrace_AddsStackOnce(t *testing.T) {
	err := EnsureTrace(errSentinel)
	if err == errSentinel {
		t.Fatal("EnsureTrace should wrap a plain error")
	}
	again := EnsureTrace(err)
	if again != err {
		t.Fatal("EnsureTrace should not re-wrap an error that already has a stack")
	}
	if !errors.Is(again, errSentinel) {
		t.Fatal("errors.Is should see through EnsureTrace")
	}
}
