package dex

// Flow is the default opcode classifier and branch target resolver. It is
// stateless; the zero value is ready to use.
type Flow struct{}

// IsControlTransfer reports whether ins ends a basic block: branches,
// switches, returns and throw.
func (Flow) IsControlTransfer(ins *Instruction) bool {
	return ins.Flow().IsControlTransfer()
}

// BranchTargets returns the absolute byte offsets control may reach after
// executing ins at site. Conditional branches list the fallthrough first;
// switches list the fallthrough followed by every case in table order.
// Returns and throw have no targets and yield an empty, non-nil slice.
//
// Switch tables are read through code, which must cover the whole method
// body.
func (Flow) BranchTargets(ins *Instruction, site int, code *Cursor) ([]int, error) {
	switch ins.Flow() {
	case FlowGoto:
		return []int{site + int(ins.Branch)*2}, nil
	case FlowIf:
		return []int{site + ins.Length, site + int(ins.Branch)*2}, nil
	case FlowSwitch:
		p, err := ReadSwitchPayload(code, site+int(ins.Branch)*2)
		if err != nil {
			return nil, err
		}
		targets := make([]int, 0, len(p.Targets)+1)
		targets = append(targets, site+ins.Length)
		for _, rel := range p.Targets {
			targets = append(targets, site+int(rel)*2)
		}
		return targets, nil
	case FlowReturn, FlowThrow:
		return []int{}, nil
	}
	return nil, nil
}
