package prediction

// Guidance is the static content attached to a known label.
type Guidance struct {
	Severity       Severity
	Description    string
	WhatToDo       []string
	WhatNotToDo    []string
	AdditionalInfo string
}

// Adding a class means adding an entry here; Normalize has no per-label logic.
var guidanceTable = map[Label]Guidance{
	LabelMelanoma: {
		Severity:    SeverityHigh,
		Description: "Malignant skin cancer arising from pigment-producing cells. Early detection is critical for treatment success.",
		WhatToDo: []string{
			"Schedule an appointment with a dermatologist immediately.",
			"Keep the area protected from sun exposure.",
			"Take a baseline photo to monitor any rapid changes.",
		},
		WhatNotToDo: []string{
			"Do not scratch, pick, or attempt to remove the lesion.",
			"Avoid prolonged sun exposure and tanning beds.",
			"Do not apply over-the-counter hydrocortisone or home remedies.",
		},
		AdditionalInfo: "Melanoma is the most dangerous type of skin cancer but is often highly treatable when detected early.",
	},
	LabelTinea: {
		Severity:    SeverityMedium,
		Description: "Fungal infection causing circular, red, itchy patches on the skin. Treatable with antifungal medication.",
		WhatToDo: []string{
			"Keep the affected area clean and dry.",
			"Use over-the-counter antifungal creams unless a doctor prescribes otherwise.",
			"Wash your hands thoroughly after touching the affected area.",
			"Wash clothes and towels in hot water.",
		},
		WhatNotToDo: []string{
			"Avoid sharing towels, clothing, or personal items.",
			"Do not wear tight, non-breathable clothing over the area.",
			"Do not scratch the area to prevent secondary bacterial infections.",
		},
		AdditionalInfo: "Tinea, also known as ringworm, is highly contagious and can spread to other parts of your body or to other people and pets.",
	},
	LabelRandomObject: {
		Severity:       SeverityUnknown,
		Description:    "The uploaded image does not appear to contain skin tissue. Please upload a clear photo of the skin area you wish to analyze.",
		AdditionalInfo: "Our AI system first checks to ensure the image contains human skin before attempting a diagnosis.",
	},
}

// LookupGuidance returns the guidance for label. Unknown labels get an
// unknown severity and no content.
func LookupGuidance(label string) (Guidance, bool) {
	g, ok := guidanceTable[Label(label)]
	if !ok {
		return Guidance{Severity: SeverityUnknown}, false
	}
	return g, true
}

// KnownLabels lists the labels with guidance, in no particular order.
func KnownLabels() []Label {
	labels := make([]Label, 0, len(guidanceTable))
	for label := range guidanceTable {
		labels = append(labels, label)
	}
	return labels
}
