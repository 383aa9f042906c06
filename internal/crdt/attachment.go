package crdt

// attachment is embedded by Object, Map, and List. It is not itself a Node
// implementation — each concrete type forwards to it explicitly, keeping
// the three shapes free of a shared virtual base.
type attachment struct {
	doc    *Document
	parent Node
	path   []string
	subs   *subscriberSet
}

func newAttachment() attachment {
	return attachment{subs: newSubscriberSet()}
}

func (a *attachment) attach(doc *Document, parent Node, path []string) {
	a.doc = doc
	a.parent = parent
	a.path = path
}

func (a *attachment) detach() {
	a.doc = nil
	a.parent = nil
}

func (a *attachment) attached() bool {
	return a.doc != nil
}

func (a *attachment) Path() []string {
	out := make([]string, len(a.path))
	copy(out, a.path)
	return out
}

func (a *attachment) subscribers() *subscriberSet {
	return a.subs
}

func childPath(parent []string, seg string) []string {
	out := make([]string, len(parent), len(parent)+1)
	copy(out, parent)
	return append(out, seg)
}

// attachValue attaches v if it is itself a Node (nested CRDT); scalars are
// left untouched.
func attachValue(doc *Document, parent Node, path []string, v interface{}) {
	if child, ok := v.(Node); ok {
		child.attach(doc, parent, path)
	}
}
