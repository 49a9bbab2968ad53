package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op, not a nil function
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not have triggered callback")
	}
}

func TestSetDebug(t *testing.T) {
	originalLogf, originalDebugf := Logf, Debugf
	defer func() { Logf, Debugf = originalLogf, originalDebugf }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, format)
	})

	Debugf("dropped")
	if len(got) != 0 {
		t.Fatalf("Debugf logged while disabled: %v", got)
	}

	SetDebug(true)
	Debugf("kept")
	if len(got) != 1 || got[0] != "kept" {
		t.Fatalf("Debugf = %v, want [kept]", got)
	}

	SetDebug(false)
	Debugf("dropped again")
	if len(got) != 1 {
		t.Fatalf("Debugf logged after disable: %v", got)
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}
