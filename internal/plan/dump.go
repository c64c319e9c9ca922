package plan

import (
	"fmt"
	"io"
	"strings"
)

// DumpParticipant renders one participant's plan as `id: (peer,dir,phase,size);...`.
func DumpParticipant(p *Plan, id int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d: ", id)
	for _, s := range p.Participant(id) {
		b.WriteString(s.String())
		b.WriteByte(';')
	}
	return b.String()
}

// Dump writes every participant's plan, one line each.
func Dump(w io.Writer, p *Plan) error {
	if _, err := fmt.Fprintf(w, "plan family=%s n=%d origin=%d depth=%d steps=%d\n",
		p.Family, p.N, p.Origin, p.Depth, p.Len()); err != nil {
		return err
	}
	for id := range p.Steps {
		if _, err := fmt.Fprintln(w, DumpParticipant(p, id)); err != nil {
			return err
		}
	}
	return nil
}

// StepView is the JSON shape of one step in diagnostic dumps.
type StepView struct {
	Peer      int    `json:"peer"`
	Dir       string `json:"dir"`
	Phase     int    `json:"phase"`
	Size      int    `json:"size"`
	Broadcast bool   `json:"broadcast"`
}

// View returns participant id's plan in its JSON dump shape.
func View(p *Plan, id int) []StepView {
	steps := p.Participant(id)
	out := make([]StepView, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepView{
			Peer:      s.Peer,
			Dir:       s.Dir.String(),
			Phase:     s.Phase,
			Size:      s.Size,
			Broadcast: s.Broadcast,
		})
	}
	return out
}
