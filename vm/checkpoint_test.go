package vm

import (
	"errors"
	"math/big"
	"testing"
)

const checkpointSrc = "PUSH 7\nSTORE 3\nCHECKPOINT\nPUSH 49\nPRINT\nHALT\n"

func TestCheckpointSnapshotContents(t *testing.T) {
	prog := mustAssemble(t, checkpointSrc)
	v := New(prog)
	sink := &MemorySink{}
	v.SetSink(sink)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if len(sink.Snapshots) != 1 {
		t.Fatalf("%d snapshots, want 1", len(sink.Snapshots))
	}
	snap := sink.Snapshots[0]
	if snap.PC != 3 {
		t.Errorf("snapshot pc = %d, want 3", snap.PC)
	}
	if snap.ProgramHash != prog.Hash() {
		t.Error("snapshot carries wrong program hash")
	}
	if got := snap.Memory[3]; got == nil || got.Int64() != 7 {
		t.Errorf("snapshot memory[3] = %v, want 7", got)
	}
}

func TestCheckpointRestoreResumes(t *testing.T) {
	prog := mustAssemble(t, checkpointSrc)
	v := New(prog)
	sink := &MemorySink{}
	v.SetSink(sink)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}

	restored, err := Restore(prog, sink.Snapshots[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := restored.Run(); err != nil {
		t.Fatal(err)
	}
	if got := restored.OutputString(); got != "1" {
		t.Errorf("restored run output = %q, want \"1\"", got)
	}
	if got := restored.Memory().Load(3); got.Int64() != 7 {
		t.Errorf("restored memory[3] = %s, want 7", got)
	}
}

func TestCheckpointNoSinkIsNoop(t *testing.T) {
	v := run(t, checkpointSrc)
	if got := v.OutputString(); got != "1" {
		t.Errorf("output = %q, want \"1\"", got)
	}
}

type failingSink struct{}

func (failingSink) Save(*Snapshot) error { return errors.New("disk full") }

func TestCheckpointSinkFailureFatal(t *testing.T) {
	v := New(mustAssemble(t, checkpointSrc))
	v.SetSink(failingSink{})
	err := v.Run()
	var ve *Error
	if !errors.As(err, &ve) || ve.Kind != ErrHostGateway {
		t.Fatalf("err = %v, want HostGatewayFailure", err)
	}
}

func TestSnapshotMarshalRoundtrip(t *testing.T) {
	prog := mustAssemble(t, "PUSH 5\nCALL sub\nHALT\nsub:\nALLOC 4\nCHECKPOINT\nFREE 0\nRET\n")
	v := New(prog)
	sink := &MemorySink{}
	v.SetSink(sink)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	snap := sink.Snapshots[0]

	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.PC != snap.PC || got.ProgramHash != snap.ProgramHash {
		t.Errorf("decoded header (%d, %x) != original (%d, %x)",
			got.PC, got.ProgramHash, snap.PC, snap.ProgramHash)
	}
	if len(got.Stack) != len(snap.Stack) {
		t.Fatalf("stack depth %d != %d", len(got.Stack), len(snap.Stack))
	}
	for i := range snap.Stack {
		if got.Stack[i].Cmp(snap.Stack[i]) != 0 {
			t.Errorf("stack[%d] = %s, want %s", i, got.Stack[i], snap.Stack[i])
		}
	}
	if len(got.Frames) != 1 || got.Frames[0] != snap.Frames[0] {
		t.Errorf("frames = %v, want %v", got.Frames, snap.Frames)
	}
	if len(got.LiveAllocs) != len(snap.LiveAllocs) {
		t.Errorf("live allocs = %v, want %v", got.LiveAllocs, snap.LiveAllocs)
	}
}

func TestRestoreRejectsWrongProgram(t *testing.T) {
	prog := mustAssemble(t, checkpointSrc)
	v := New(prog)
	sink := &MemorySink{}
	v.SetSink(sink)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	other := mustAssemble(t, "PUSH 1\nPRINT\n")
	if _, err := Restore(other, sink.Snapshots[0]); err == nil {
		t.Error("Restore onto a different program succeeded")
	}
}

func TestMarshalSnapshotCanonical(t *testing.T) {
	snap := &Snapshot{
		PC:     2,
		Stack:  []*big.Int{big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), 100)},
		Memory: map[int64]*big.Int{4: big.NewInt(9), -1: big.NewInt(3)},
	}
	a, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("canonical encoding is not stable")
	}
}
