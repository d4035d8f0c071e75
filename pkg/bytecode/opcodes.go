package bytecode

import "fmt"

// Opcode represents a register machine instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Data movement (0x00-0x0F)
	// ========================================================================

	OpNop        Opcode = 0x00 // No operation
	OpMove       Opcode = 0x01 // Copy a value: MOVE src dst
	OpPutTuple   Opcode = 0x02 // Build a tuple: PUT_TUPLE dst elem...
	OpGetElement Opcode = 0x03 // Read a tuple element: GET_ELEMENT src index dst
	OpPutList    Opcode = 0x04 // Build a cons cell: PUT_LIST head tail dst

	// ========================================================================
	// Control flow (0x10-0x1F)
	// ========================================================================

	OpJump       Opcode = 0x10 // Unconditional jump: JUMP label
	OpCall       Opcode = 0x11 // Call local function: CALL label (CP = next)
	OpReturn     Opcode = 0x12 // Return to CP; with no CP the process finishes
	OpAllocate   Opcode = 0x13 // Open a frame of n Y slots: ALLOCATE n
	OpDeallocate Opcode = 0x14 // Close a frame of n Y slots: DEALLOCATE n
	OpCallBif    Opcode = 0x15 // Call builtin: CALL_BIF name arity (args x0.., result x0)

	// ========================================================================
	// Tests (0x20-0x2F): fall through when the test holds, else jump
	// ========================================================================

	OpIsEq       Opcode = 0x20 // IS_EQ fail a b
	OpIsNe       Opcode = 0x21 // IS_NE fail a b
	OpIsLt       Opcode = 0x22 // IS_LT fail a b
	OpIsGe       Opcode = 0x23 // IS_GE fail a b
	OpIsTuple    Opcode = 0x24 // IS_TUPLE fail a
	OpIsAtom     Opcode = 0x25 // IS_ATOM fail a
	OpIsPid      Opcode = 0x26 // IS_PID fail a
	OpTestArity  Opcode = 0x27 // TEST_ARITY fail tuple n
	OpIsNil      Opcode = 0x28 // IS_NIL fail a
	OpIsNonEmpty Opcode = 0x29 // IS_NONEMPTY_LIST fail a
	OpGetList    Opcode = 0x2A // GET_LIST src head tail

	// ========================================================================
	// Exceptions (0x30-0x3F)
	// ========================================================================

	OpTry     Opcode = 0x30 // Install catch in Y slot: TRY y handler
	OpTryEnd  Opcode = 0x31 // Remove catch after normal completion: TRY_END y
	OpTryCase Opcode = 0x32 // Remove catch in handler; x0..x2 = class, value, trace
	OpRaise   Opcode = 0x33 // Re-raise: RAISE class value

	// ========================================================================
	// Messages (0x40-0x4F)
	// ========================================================================

	OpSend          Opcode = 0x40 // x0 ! x1, result in x0
	OpLoopRec       Opcode = 0x41 // Peek at save pointer: LOOP_REC empty dst
	OpLoopRecEnd    Opcode = 0x42 // Skip message and retry: LOOP_REC_END label
	OpRemoveMessage Opcode = 0x43 // Consume message at save pointer
	OpWait          Opcode = 0x44 // Block until a message arrives: WAIT label
	OpWaitTimeout   Opcode = 0x45 // Block with timeout: WAIT_TIMEOUT label ms
	OpTimeout       Opcode = 0x46 // Receive timed out; reset save pointer
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name     string // Human-readable name
	Operands int    // Number of operands (-1 = variable)
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Data movement
	OpNop:        {"NOP", 0},
	OpMove:       {"MOVE", 2},
	OpPutTuple:   {"PUT_TUPLE", -1},
	OpGetElement: {"GET_ELEMENT", 3},
	OpPutList:    {"PUT_LIST", 3},

	// Control flow
	OpJump:       {"JUMP", 1},
	OpCall:       {"CALL", 1},
	OpReturn:     {"RETURN", 0},
	OpAllocate:   {"ALLOCATE", 1},
	OpDeallocate: {"DEALLOCATE", 1},
	OpCallBif:    {"CALL_BIF", 2},

	// Tests
	OpIsEq:       {"IS_EQ", 3},
	OpIsNe:       {"IS_NE", 3},
	OpIsLt:       {"IS_LT", 3},
	OpIsGe:       {"IS_GE", 3},
	OpIsTuple:    {"IS_TUPLE", 2},
	OpIsAtom:     {"IS_ATOM", 2},
	OpIsPid:      {"IS_PID", 2},
	OpTestArity:  {"TEST_ARITY", 3},
	OpIsNil:      {"IS_NIL", 2},
	OpIsNonEmpty: {"IS_NONEMPTY_LIST", 2},
	OpGetList:    {"GET_LIST", 3},

	// Exceptions
	OpTry:     {"TRY", 2},
	OpTryEnd:  {"TRY_END", 1},
	OpTryCase: {"TRY_CASE", 1},
	OpRaise:   {"RAISE", 2},

	// Messages
	OpSend:          {"SEND", 0},
	OpLoopRec:       {"LOOP_REC", 2},
	OpLoopRecEnd:    {"LOOP_REC_END", 1},
	OpRemoveMessage: {"REMOVE_MESSAGE", 0},
	OpWait:          {"WAIT", 1},
	OpWaitTimeout:   {"WAIT_TIMEOUT", 2},
	OpTimeout:       {"TIMEOUT", 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsTest returns true if this opcode is a conditional test.
func (op Opcode) IsTest() bool {
	return op >= OpIsEq && op <= OpIsNonEmpty
}

// IsReceive returns true if this opcode takes part in a receive loop.
func (op Opcode) IsReceive() bool {
	return op >= OpLoopRec && op <= OpTimeout
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
