package prediction

// Normalize derives the presentation model from a raw classifier response.
// It never fails: missing or malformed fields degrade to zero confidence and
// unknown severity.
func Normalize(raw RawResponse) Prediction {
	label := raw.Class()
	guidance, _ := LookupGuidance(label)

	return Prediction{
		Label:          label,
		Confidence:     NormalizeConfidence(raw.Confidence()),
		Description:    guidance.Description,
		Severity:       guidance.Severity,
		WhatToDo:       cloneOrNil(guidance.WhatToDo),
		WhatNotToDo:    cloneOrNil(guidance.WhatNotToDo),
		AdditionalInfo: guidance.AdditionalInfo,
		Stage:          raw.Stage(),
		Message:        raw.Message(),
	}
}

// Predictions returns the ranked predictions for raw, primary first. The
// classifier only reports its top class, so the slice has one element.
func Predictions(raw RawResponse) []Prediction {
	return []Prediction{Normalize(raw)}
}

func cloneOrNil(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}
