package ops

import (
	"testing"
	"time"
)

func TestChooseTimeout(t *testing.T) {
	limits := Limits{DefaultTimeout: 30 * time.Second, MaxTimeout: 10 * time.Minute}

	cases := []struct {
		requested string
		want      time.Duration
	}{
		{"", 30 * time.Second},
		{"5s", 5 * time.Second},
		{"1h", 10 * time.Minute},
		{"not-a-duration", 30 * time.Second},
		{"-5s", 30 * time.Second},
	}
	for _, tc := range cases {
		if got := limits.ChooseTimeout(tc.requested); got != tc.want {
			t.Errorf("ChooseTimeout(%q) = %v, want %v", tc.requested, got, tc.want)
		}
	}

	// Zero-valued limits still produce a sane default.
	if got := (Limits{}).ChooseTimeout(""); got != 30*time.Second {
		t.Errorf("zero limits default = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	limits := Limits{}
	reg := NewRegistry(NewWriteRunner(limits), NewDeleteRunner(limits), NewShellRunner(limits))

	if _, ok := reg.Lookup("file.write"); !ok {
		t.Fatal("file.write not registered")
	}
	if _, ok := reg.Lookup("nope"); ok {
		t.Fatal("unexpected runner for unknown tool")
	}

	reg.Register(NewCommitRunner(limits))
	names := reg.Names()
	want := []string{"file.delete", "file.write", "git.commit", "shell.run"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"path": "/a", "count": 3, "empty": ""}

	if _, err := requiredString(args, "path"); err != nil {
		t.Fatal(err)
	}
	if _, err := requiredString(args, "count"); err == nil {
		t.Fatal("non-string arg accepted")
	}
	if _, err := requiredString(args, "empty"); err == nil {
		t.Fatal("empty arg accepted")
	}
	if got := optionalString(args, "missing", "fallback"); got != "fallback" {
		t.Fatalf("optionalString = %q", got)
	}
}
