package spans

// AnswerableMask marks the positions of w that may start or end an answer:
// real, non-special tokens whose offset is a non-empty range inside a
// context of contextLen bytes. Position 0 is never answerable.
func AnswerableMask(w Window, contextLen int) []bool {
	mask := make([]bool, w.Len())
	for i := 1; i < len(mask); i++ {
		off := w.Offsets[i]
		mask[i] = w.AttentionMask[i] == 1 &&
			w.SpecialMask[i] == 0 &&
			off.Start >= 0 && !off.Empty() && off.End <= contextLen
	}
	return mask
}

// softmaxSupport returns the positions that take part in normalisation.
// The anchor joins the answerable positions when impossible answers are
// allowed, and also when nothing else is eligible so the distribution
// stays well defined.
func softmaxSupport(answerable []bool, allowImpossible bool) []bool {
	support := make([]bool, len(answerable))
	copy(support, answerable)
	support[0] = allowImpossible
	if !allowImpossible {
		for _, ok := range answerable {
			if ok {
				return support
			}
		}
		support[0] = true
	}
	return support
}
