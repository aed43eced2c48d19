package rsyncopts

import (
	"reflect"
	"testing"

	"github.com/zrsync/rrsync/rsync"
)

// TestBuildServerArgsSenderDirection locks in the wire "--sender" flag's
// direction: it names the remote "--server" process as sender, the
// opposite of the local caller's own Sender field, not a copy of it.
func TestBuildServerArgsSenderDirection(t *testing.T) {
	cases := []struct {
		name       string
		localIsSnd bool
		wantFlag   bool
	}{
		{name: "local sender, remote must be receiver", localIsSnd: true, wantFlag: false},
		{name: "local receiver, remote must be sender", localIsSnd: false, wantFlag: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := BuildServerArgs(&Options{Sender: tc.localIsSnd}, []string{"dest"})
			got := false
			for _, a := range args {
				if a == "--sender" {
					got = true
				}
			}
			if got != tc.wantFlag {
				t.Errorf("BuildServerArgs(Sender=%v) = %v, --sender present = %v, want %v",
					tc.localIsSnd, args, got, tc.wantFlag)
			}
		})
	}
}

func TestBuildServerArgsShape(t *testing.T) {
	opts := &Options{Sender: true, PreservePerms: true, PreserveTimes: true, FileSelection: rsync.FileSelectionRecurse}
	got := BuildServerArgs(opts, []string{"mod/path"})
	want := []string{"--server", "-ptr", ".", "mod/path"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildServerArgs() = %v, want %v", got, want)
	}
}

func TestParseArgumentsRoundTripsFlagString(t *testing.T) {
	args := []string{"--server", "--sender", "-logDtpr", ".", "mod/path"}
	res, err := ParseArguments(args)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Options.Server || !res.Options.Sender {
		t.Fatalf("Server/Sender = %v/%v, want true/true", res.Options.Server, res.Options.Sender)
	}
	if !res.Options.PreserveLinks || !res.Options.PreserveUID || !res.Options.PreserveGID ||
		!res.Options.PreserveDevices || !res.Options.PreserveSpecials || !res.Options.PreserveTimes || !res.Options.PreservePerms {
		t.Fatalf("unexpected decoded Options: %+v", res.Options)
	}
	if res.Options.FileSelection != rsync.FileSelectionRecurse {
		t.Errorf("FileSelection = %v, want FileSelectionRecurse", res.Options.FileSelection)
	}
	want := []string{".", "mod/path"}
	if !reflect.DeepEqual(res.RemainingArgs, want) {
		t.Errorf("RemainingArgs = %v, want %v", res.RemainingArgs, want)
	}
}

func TestParseArgumentsRejectsSenderWithoutServer(t *testing.T) {
	if _, err := ParseArguments([]string{"--sender", "-r", "."}); err == nil {
		t.Fatal("expected an error for --sender without --server, got nil")
	}
}

func TestParseArgumentsRejectsUnknownFlag(t *testing.T) {
	if _, err := ParseArguments([]string{"--server", "-Z", "."}); err == nil {
		t.Fatal("expected an error for an unsupported flag letter, got nil")
	}
}

func TestFormatFlagStringEmpty(t *testing.T) {
	if got := FormatFlagString(&Options{}); got != "" {
		t.Errorf("FormatFlagString(zero value) = %q, want empty string", got)
	}
}

// TestDeleteAndAlwaysItemizeRoundTrip locks in that --delete stays a
// standalone long flag (never bundled into the short-flag string) while
// always-itemize rides the bundled "i" letter, matching the reference's
// own split between the two.
func TestDeleteAndAlwaysItemizeRoundTrip(t *testing.T) {
	opts := &Options{Sender: true, Delete: true, AlwaysItemize: true, FileSelection: rsync.FileSelectionRecurse}
	args := BuildServerArgs(opts, []string{"mod/path"})
	want := []string{"--server", "--delete", "-ri", ".", "mod/path"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("BuildServerArgs() = %v, want %v", args, want)
	}

	res, err := ParseArguments(args)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Options.Delete || !res.Options.AlwaysItemize {
		t.Fatalf("Delete/AlwaysItemize = %v/%v, want true/true", res.Options.Delete, res.Options.AlwaysItemize)
	}
}
