package agent

import (
	"fmt"
	"os"
)

// numSlots bounds the child table. Slot ids on the wire are single bytes
// with the top bit reserved, so valid ids range over [0, 127).
const numSlots = 127

// child is one slot of the child table. A slot is live while pid is
// non-zero; it is recycled only after the exit record has arrived and
// the pipe has reported EOF.
type child struct {
	pid  int
	proc *os.Process
	rd   *os.File

	exited   bool
	eof      bool
	siCode   uint8
	siStatus uint8
}

type childTable [numSlots]child

func (t *childTable) slot(id uint8) *child { return &t[id] }

// live reports whether the slot currently holds a child.
func (t *childTable) live(id uint8) bool { return t[id].pid != 0 }

// allocate populates a free slot. The slot id comes from the scheduler;
// handing out an occupied one is its bug, not ours.
func (t *childTable) allocate(id uint8, pid int, rd *os.File) error {
	if t[id].pid != 0 {
		return fmt.Errorf("slot %d already holds pid %d", id, t[id].pid)
	}
	t[id] = child{pid: pid, rd: rd}
	return nil
}

// findByPid returns the slot id holding pid, or -1.
func (t *childTable) findByPid(pid int) int {
	for id := range t {
		if t[id].pid == pid {
			return id
		}
	}
	return -1
}

// free closes the slot's pipe if still open and clears it for reuse.
func (t *childTable) free(id uint8) error {
	var err error
	if t[id].rd != nil {
		err = t[id].rd.Close()
	}
	t[id] = child{}
	return err
}
