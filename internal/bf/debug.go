package bf

// InterleaveDebug places a DebugLog before every instruction and one after the last,
// so a trace shows the machine state around each operation.
func InterleaveDebug(p Program) Program {
	out := make(Program, 0, 2*len(p)+1)
	out = append(out, DebugLogInsn)
	for _, in := range p {
		out = append(out, in, DebugLogInsn)
	}
	return out
}
