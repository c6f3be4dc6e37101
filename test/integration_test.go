// Package test provides integration tests for the complete interpretation
// pipeline.
//
// These tests exercise the full execution flow:
// 1. Encode a program into the little-endian binary image format
// 2. Load the image through the loader (plain and zstd-compressed)
// 3. Attach a terminal
// 4. Execute to a clean halt or a fault
// 5. Validate terminal output and final machine state
package test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/synacor-vm/pkg/console"
	"github.com/fortiblox/synacor-vm/pkg/program"
	"github.com/fortiblox/synacor-vm/pkg/vm"
)

// Test utilities

// encodeImage packs words into the little-endian binary image format.
func encodeImage(words []uint16) []byte {
	data := make([]byte, len(words)*2)
	for i, w := range words {
		data[i*2] = byte(w)
		data[i*2+1] = byte(w >> 8)
	}
	return data
}

// writeImageFile writes an encoded image to a temporary file and returns
// its path.
func writeImageFile(t *testing.T, words []uint16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.bin")
	if err := os.WriteFile(path, encodeImage(words), 0644); err != nil {
		t.Fatalf("failed to write image file: %v", err)
	}
	return path
}

// loadMachine round-trips a program through the image loader and returns
// a machine ready to run against the given terminal.
func loadMachine(t *testing.T, words []uint16, term vm.Terminal) *vm.VM {
	t.Helper()

	img, err := program.Open(writeImageFile(t, words))
	if err != nil {
		t.Fatalf("failed to load image: %v", err)
	}
	machine, err := vm.NewVM(img.Words)
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	if term != nil {
		machine.SetTerminal(term)
	}
	return machine
}

// scriptedTerminal implements vm.Terminal for testing. Output characters
// are captured; input is served from pre-queued lines.
type scriptedTerminal struct {
	output bytes.Buffer
	lines  [][]byte
}

func (st *scriptedTerminal) WriteChar(c byte) error {
	st.output.WriteByte(c)
	return nil
}

func (st *scriptedTerminal) ReadLine() ([]byte, error) {
	if len(st.lines) == 0 {
		return nil, io.EOF
	}
	line := st.lines[0]
	st.lines = st.lines[1:]
	return line, nil
}

// Integration tests

// TestFullPipeline_OutputProgram loads and runs the smallest interesting
// program: two output instructions followed by a halt.
func TestFullPipeline_OutputProgram(t *testing.T) {
	term := &scriptedTerminal{}
	machine := loadMachine(t, []uint16{vm.OpOut, 'H', vm.OpOut, 'i', vm.OpHalt}, term)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := term.output.String(); got != "Hi" {
		t.Errorf("expected output %q, got %q", "Hi", got)
	}
	if !machine.Halted() {
		t.Error("machine should report a clean halt")
	}
	if steps := machine.GetStepCount(); steps != 2 {
		t.Errorf("expected 2 executed instructions, got %d", steps)
	}
	if pc := machine.GetPC(); pc != 4 {
		t.Errorf("expected final pc 4, got %d", pc)
	}
	t.Logf("Output: %q, steps: %d", term.output.String(), machine.GetStepCount())
}

// TestFullPipeline_RegisterArithmetic preloads registers, sums them into
// another register and emits the result as a character.
func TestFullPipeline_RegisterArithmetic(t *testing.T) {
	term := &scriptedTerminal{}
	machine := loadMachine(t, []uint16{
		vm.OpAdd, 32768, 32769, 32770,
		vm.OpOut, 32768,
		vm.OpHalt,
	}, term)

	machine.SetRegister(1, 'A')
	machine.SetRegister(2, 1)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := machine.GetRegister(0); got != 'B' {
		t.Errorf("expected r0 = %d, got %d", 'B', got)
	}
	if got := term.output.String(); got != "B" {
		t.Errorf("expected output %q, got %q", "B", got)
	}
}

// TestFullPipeline_WrappingArithmetic exercises the modulo-32768 sum and
// the widened product through the full load-and-run path.
func TestFullPipeline_WrappingArithmetic(t *testing.T) {
	machine := loadMachine(t, []uint16{
		vm.OpAdd, 32768, 32758, 15,
		vm.OpMult, 32769, 4000, 4000,
		vm.OpHalt,
	}, nil)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := machine.GetRegister(0); got != 5 {
		t.Errorf("expected r0 = 5, got %d", got)
	}
	// 4000 * 4000 = 16000000; 16000000 mod 32768 = 9216
	if got := machine.GetRegister(1); got != 9216 {
		t.Errorf("expected r1 = 9216, got %d", got)
	}
}

// TestFullPipeline_JumpSkipsHalt jumps over an inline halt at address 2
// and lands on the output instruction at address 3.
func TestFullPipeline_JumpSkipsHalt(t *testing.T) {
	term := &scriptedTerminal{}
	machine := loadMachine(t, []uint16{vm.OpJmp, 3, vm.OpHalt, vm.OpOut, 'A', vm.OpHalt}, term)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := term.output.String(); got != "A" {
		t.Errorf("expected output %q, got %q", "A", got)
	}
	if pc := machine.GetPC(); pc != 5 {
		t.Errorf("expected final pc 5, got %d", pc)
	}
}

// TestFullPipeline_ConditionalBranch drives both arms of an eq-then-jt
// sequence: an equal comparison takes the jump, an unequal one falls
// through.
func TestFullPipeline_ConditionalBranch(t *testing.T) {
	// Layout: eq at 0, jt at 4, the fallthrough prints 'N' at 7, the
	// jump target prints 'Y' at 10.
	branchProgram := func(b, c uint16) []uint16 {
		return []uint16{
			vm.OpEq, 32768, b, c,
			vm.OpJt, 32768, 10,
			vm.OpOut, 'N',
			vm.OpHalt,
			vm.OpOut, 'Y',
			vm.OpHalt,
		}
	}

	// Equal operands: comparison sets r0 = 1, jump taken.
	term := &scriptedTerminal{}
	machine := loadMachine(t, branchProgram(5, 5), term)
	if err := machine.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := machine.GetRegister(0); got != 1 {
		t.Errorf("expected r0 = 1 after equal comparison, got %d", got)
	}
	if got := term.output.String(); got != "Y" {
		t.Errorf("expected output %q on taken branch, got %q", "Y", got)
	}

	// Unequal operands: r0 = 0, jump not taken.
	term = &scriptedTerminal{}
	machine = loadMachine(t, branchProgram(5, 6), term)
	if err := machine.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := machine.GetRegister(0); got != 0 {
		t.Errorf("expected r0 = 0 after unequal comparison, got %d", got)
	}
	if got := term.output.String(); got != "N" {
		t.Errorf("expected output %q on fallthrough, got %q", "N", got)
	}
}

// TestFullPipeline_CallAndReturn calls a routine that emits one character
// and returns. The call at 0 pushes 2, so the ret lands on the halt.
func TestFullPipeline_CallAndReturn(t *testing.T) {
	term := &scriptedTerminal{}
	machine := loadMachine(t, []uint16{
		vm.OpCall, 4,
		vm.OpHalt,
		vm.OpNoop,
		vm.OpOut, 'B',
		vm.OpRet,
	}, term)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := term.output.String(); got != "B" {
		t.Errorf("expected output %q, got %q", "B", got)
	}
	if pc := machine.GetPC(); pc != 2 {
		t.Errorf("expected final pc 2, got %d", pc)
	}
	if depth := machine.GetStackDepth(); depth != 0 {
		t.Errorf("expected empty stack after return, got depth %d", depth)
	}
}

// TestFullPipeline_StackRoundTrip pushes two characters, pops them in
// reverse into registers and emits them in original order.
func TestFullPipeline_StackRoundTrip(t *testing.T) {
	term := &scriptedTerminal{}
	machine := loadMachine(t, []uint16{
		vm.OpPush, 'H',
		vm.OpPush, 'i',
		vm.OpPop, 32768,
		vm.OpPop, 32769,
		vm.OpOut, 32769,
		vm.OpOut, 32768,
		vm.OpHalt,
	}, term)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := term.output.String(); got != "Hi" {
		t.Errorf("expected output %q, got %q", "Hi", got)
	}
	if depth := machine.GetStackDepth(); depth != 0 {
		t.Errorf("expected empty stack, got depth %d", depth)
	}
}

// TestFullPipeline_MemoryReadWrite stores a character beyond the program,
// reads it back and emits it.
func TestFullPipeline_MemoryReadWrite(t *testing.T) {
	term := &scriptedTerminal{}
	machine := loadMachine(t, []uint16{
		vm.OpWmem, 100, 'A',
		vm.OpRmem, 32768, 100,
		vm.OpOut, 32768,
		vm.OpHalt,
	}, term)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := term.output.String(); got != "A" {
		t.Errorf("expected output %q, got %q", "A", got)
	}
	if got := machine.ReadWord(100); got != 'A' {
		t.Errorf("expected mem[100] = %d, got %d", 'A', got)
	}
}

// TestFullPipeline_EchoLine runs an echo loop against a real console:
// read a character, emit it, repeat until the newline comes through.
func TestFullPipeline_EchoLine(t *testing.T) {
	var out bytes.Buffer
	cons := console.New(strings.NewReader("hiya\n"), &out)

	machine := loadMachine(t, []uint16{
		vm.OpIn, 32768,
		vm.OpOut, 32768,
		vm.OpEq, 32769, 32768, '\n',
		vm.OpJf, 32769, 0,
		vm.OpHalt,
	}, cons)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := cons.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if got := out.String(); got != "hiya\n" {
		t.Errorf("expected echo %q, got %q", "hiya\n", got)
	}
	if pending := machine.PendingInput(); pending != 0 {
		t.Errorf("expected drained input queue, got %d pending", pending)
	}
	t.Logf("Echoed %q in %d instructions", out.String(), machine.GetStepCount())
}

// TestFullPipeline_InputQueueSpansLines reads five characters across two
// queued lines. The queue refills only when empty, so the second line is
// fetched mid-program.
func TestFullPipeline_InputQueueSpansLines(t *testing.T) {
	term := &scriptedTerminal{lines: [][]byte{[]byte("ab\n"), []byte("c\n")}}
	machine := loadMachine(t, []uint16{
		vm.OpIn, 32768,
		vm.OpIn, 32769,
		vm.OpIn, 32770,
		vm.OpIn, 32771,
		vm.OpIn, 32772,
		vm.OpHalt,
	}, term)

	err := machine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []uint16{'a', 'b', '\n', 'c', '\n'}
	for i, w := range want {
		if got := machine.GetRegister(i); got != w {
			t.Errorf("register r%d: expected %d, got %d", i, w, got)
		}
	}
}

// TestFullPipeline_CompressedImage runs a program loaded from a
// zstd-compressed image file.
func TestFullPipeline_CompressedImage(t *testing.T) {
	words := []uint16{vm.OpOut, 'H', vm.OpOut, 'i', vm.OpHalt}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("failed to create zstd writer: %v", err)
	}
	if _, err := enc.Write(encodeImage(words)); err != nil {
		t.Fatalf("failed to compress image: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to finish zstd frame: %v", err)
	}

	path := filepath.Join(t.TempDir(), "program.bin.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write compressed image: %v", err)
	}

	img, err := program.Open(path)
	if err != nil {
		t.Fatalf("failed to load compressed image: %v", err)
	}
	if !img.Compressed {
		t.Error("loader should flag the image as compressed")
	}
	if len(img.Words) != len(words) {
		t.Fatalf("expected %d words, got %d", len(words), len(img.Words))
	}

	term := &scriptedTerminal{}
	machine, err := vm.NewVM(img.Words)
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	machine.SetTerminal(term)

	if err := machine.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := term.output.String(); got != "Hi" {
		t.Errorf("expected output %q, got %q", "Hi", got)
	}
	t.Logf("Compressed image decoded: %d bytes, %d words", img.SizeBytes, len(img.Words))
}

// TestFullPipeline_ChecksumVerification pins an image to its own checksum
// and rejects the checksum of a different image.
func TestFullPipeline_ChecksumVerification(t *testing.T) {
	words := []uint16{vm.OpOut, 'H', vm.OpOut, 'i', vm.OpHalt}

	img, err := program.Open(writeImageFile(t, words))
	if err != nil {
		t.Fatalf("failed to load image: %v", err)
	}

	if err := img.VerifyChecksum(img.Checksum.String()); err != nil {
		t.Errorf("image should verify against its own checksum: %v", err)
	}
	t.Logf("Image checksum: %s", img.Checksum.String())

	other := program.ChecksumBytes(encodeImage([]uint16{vm.OpHalt}))
	if err := img.VerifyChecksum(other.String()); err == nil {
		t.Error("expected verification to fail against a foreign checksum")
	}
}

// Fault scenarios

// TestFault_UnknownOpcode runs a word that names no opcode and checks
// that the fault carries the machine state.
func TestFault_UnknownOpcode(t *testing.T) {
	machine := loadMachine(t, []uint16{22, 0}, nil)

	err := machine.Run(context.Background())
	if !errors.Is(err, vm.ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}

	var vmErr *vm.VMError
	if !errors.As(err, &vmErr) {
		t.Fatalf("expected *vm.VMError, got %T", err)
	}
	if vmErr.PC != 0 {
		t.Errorf("expected fault at pc 0, got %d", vmErr.PC)
	}
	if machine.Halted() {
		t.Error("a faulted machine should not report a clean halt")
	}
	t.Logf("Fault correctly reported: %v", err)
}

// TestFault_IllegalWord feeds an operand above the register range.
func TestFault_IllegalWord(t *testing.T) {
	machine := loadMachine(t, []uint16{vm.OpOut, 32776, vm.OpHalt}, nil)

	err := machine.Run(context.Background())
	if !errors.Is(err, vm.ErrIllegalWord) {
		t.Fatalf("expected ErrIllegalWord, got %v", err)
	}

	var vmErr *vm.VMError
	if !errors.As(err, &vmErr) {
		t.Fatalf("expected *vm.VMError, got %T", err)
	}
	if vmErr.Word != 32776 {
		t.Errorf("expected offending word 32776, got %d", vmErr.Word)
	}
}

// TestFault_StackUnderflow returns from an empty stack.
func TestFault_StackUnderflow(t *testing.T) {
	machine := loadMachine(t, []uint16{vm.OpRet, vm.OpHalt}, nil)

	err := machine.Run(context.Background())
	if !errors.Is(err, vm.ErrStackUnderflow) {
		t.Fatalf("expected ErrStackUnderflow, got %v", err)
	}
}

// TestFault_DivisionByZero runs mod with a zero divisor.
func TestFault_DivisionByZero(t *testing.T) {
	machine := loadMachine(t, []uint16{vm.OpMod, 32768, 5, 0, vm.OpHalt}, nil)

	err := machine.Run(context.Background())
	if !errors.Is(err, vm.ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

// TestFault_AddressOutOfRange stores through a register that a raw rmem
// fetch filled with a register encoding. The resulting address is past
// the end of memory and must fault with the machine state attached.
func TestFault_AddressOutOfRange(t *testing.T) {
	machine := loadMachine(t, []uint16{
		vm.OpRmem, 32768, 6,
		vm.OpWmem, 32768, 0,
		32770,
	}, nil)

	err := machine.Run(context.Background())
	if !errors.Is(err, vm.ErrAddressOutOfRange) {
		t.Fatalf("expected ErrAddressOutOfRange, got %v", err)
	}

	var vmErr *vm.VMError
	if !errors.As(err, &vmErr) {
		t.Fatalf("expected *vm.VMError, got %T", err)
	}
	if vmErr.PC != 3 {
		t.Errorf("expected fault at pc 3, got %d", vmErr.PC)
	}
	if vmErr.Word != 32770 {
		t.Errorf("expected offending address 32770, got %d", vmErr.Word)
	}
}

// TestFault_InputExhausted reads from a console whose input stream is
// already at end-of-file. The fault wraps both the I/O sentinel and the
// underlying cause.
func TestFault_InputExhausted(t *testing.T) {
	var out bytes.Buffer
	cons := console.New(strings.NewReader(""), &out)
	machine := loadMachine(t, []uint16{vm.OpIn, 32768, vm.OpHalt}, cons)

	err := machine.Run(context.Background())
	if !errors.Is(err, vm.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected the fault to wrap io.EOF, got %v", err)
	}
}

// Benchmark tests

type discardTerminal struct{}

func (discardTerminal) WriteChar(byte) error      { return nil }
func (discardTerminal) ReadLine() ([]byte, error) { return nil, io.EOF }

func BenchmarkFullPipeline_CountdownLoop(b *testing.B) {
	// Counts r0 down from 1000 by adding the modular additive inverse
	// of 1. The loop body starts at 3.
	words := []uint16{
		vm.OpSet, 32768, 1000,
		vm.OpAdd, 32768, 32768, 32767,
		vm.OpJt, 32768, 3,
		vm.OpHalt,
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		machine, err := vm.NewVM(words)
		if err != nil {
			b.Fatalf("failed to create machine: %v", err)
		}
		if err := machine.Run(ctx); err != nil {
			b.Fatalf("run failed: %v", err)
		}
	}
}

func BenchmarkFullPipeline_OutputLoop(b *testing.B) {
	// Same countdown with one output per iteration. The loop body
	// starts at 3.
	words := []uint16{
		vm.OpSet, 32768, 1000,
		vm.OpOut, 'A',
		vm.OpAdd, 32768, 32768, 32767,
		vm.OpJt, 32768, 3,
		vm.OpHalt,
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		machine, err := vm.NewVM(words)
		if err != nil {
			b.Fatalf("failed to create machine: %v", err)
		}
		machine.SetTerminal(discardTerminal{})
		if err := machine.Run(ctx); err != nil {
			b.Fatalf("run failed: %v", err)
		}
	}
}

func BenchmarkImageDecode_30KWords(b *testing.B) {
	words := make([]uint16, 30000)
	for i := range words {
		words[i] = uint16(i % 32768)
	}
	data := encodeImage(words)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		program.Decode(data)
	}
}
