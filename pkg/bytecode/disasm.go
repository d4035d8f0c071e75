package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the module.
func (m *Module) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", m.name))
	sb.WriteString(fmt.Sprintf("; %d instructions\n", len(m.Code)))

	entries := make(map[int][]string)
	exports := m.Exports()
	if len(exports) > 0 {
		sb.WriteString("; Exports:\n")
		for _, e := range exports {
			sb.WriteString(fmt.Sprintf(";   %s/%d @%04d\n", e.Name, e.Arity, e.Addr))
			entries[e.Addr] = append(entries[e.Addr], fmt.Sprintf("%s/%d", e.Name, e.Arity))
		}
	}
	sb.WriteString("\n")

	for addr, ins := range m.Code {
		for _, name := range entries[addr] {
			sb.WriteString(fmt.Sprintf("%s:\n", name))
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", addr, ins.String()))
	}
	return sb.String()
}

// String formats a single instruction.
func (ins Instruction) String() string {
	if len(ins.Args) == 0 {
		return ins.Op.String()
	}
	args := make([]string, len(ins.Args))
	for i, a := range ins.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%-16s %s", ins.Op.String(), strings.Join(args, ", "))
}
