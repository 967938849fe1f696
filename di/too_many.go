package di

// tooManyRegistration 同一容器、同一位置上注册了多个定义
type tooManyRegistration struct {
	key       any
	container *container
	defs      []*ComponentDef
}

func newTooManyRegistration(key any, via *container, existing *componentDefHolder, def *ComponentDef, tm *tooManyRegistration) *tooManyRegistration {
	out := &tooManyRegistration{key: key, container: via}
	out.add(existing.candidates()...)
	if tm != nil {
		out.add(tm.defs...)
	} else {
		out.add(def)
	}
	return out
}

func (t *tooManyRegistration) add(defs ...*ComponentDef) {
	for _, d := range defs {
		if d == nil || t.contains(d) {
			continue
		}
		t.defs = append(t.defs, d)
	}
}

func (t *tooManyRegistration) contains(cd *ComponentDef) bool {
	for _, d := range t.defs {
		if d == cd {
			return true
		}
	}
	return false
}

func (t *tooManyRegistration) err() *TooManyRegistrationError {
	candidates := make([]Candidate, 0, len(t.defs))
	for _, d := range t.defs {
		candidates = append(candidates, d.candidate())
	}
	return &TooManyRegistrationError{Key: t.key, Candidates: candidates}
}

// componentDefHolder 注册表中一个键的条目，position 0 表示本地注册
type componentDefHolder struct {
	position int
	def      *ComponentDef
	tooMany  *tooManyRegistration
}

func (h *componentDefHolder) owner() *container {
	if h.tooMany != nil {
		return h.tooMany.container
	}
	return h.def.container
}

func (h *componentDefHolder) candidates() []*ComponentDef {
	if h.tooMany != nil {
		return append([]*ComponentDef(nil), h.tooMany.defs...)
	}
	if h.def != nil {
		return []*ComponentDef{h.def}
	}
	return nil
}

func (h *componentDefHolder) same(def *ComponentDef, tm *tooManyRegistration) bool {
	return h.def == def && h.tooMany == tm
}
