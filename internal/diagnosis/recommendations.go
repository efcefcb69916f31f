package diagnosis

// Recommendation is the field-actionable advice attached to a diagnosis.
type Recommendation struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

// adviceTable maps canonical disease keys to static guidance. Keys not in
// the table fall through to the "default" entry, so every diagnosis carries
// some advice.
var adviceTable = map[string]Recommendation{
	"rice_brown_spot": {
		Title:   "Rice Brown Spot",
		Summary: "Fungal spotting driven by nutrient stress and prolonged leaf wetness.",
		Actions: []string{
			"Apply a balanced potassium and nitrogen dose; deficiency worsens spotting.",
			"Spray mancozeb or propiconazole at first spotting and repeat after 10-12 days.",
			"Avoid overhead irrigation late in the day so leaves dry before night.",
		},
	},
	"rice_leaf_blast": {
		Title:   "Rice Leaf Blast",
		Summary: "Aggressive fungal lesions that can collapse seedlings within days.",
		Actions: []string{
			"Apply tricyclazole promptly; blast spreads fast under humid conditions.",
			"Split nitrogen applications; heavy single doses make canopies susceptible.",
			"Drain the field briefly to lower canopy humidity.",
		},
	},
	"rice_healthy": {
		Title:   "Healthy Rice",
		Summary: "No disease indicators detected on the sampled leaf.",
		Actions: []string{
			"Keep monitoring weekly during tillering and heading.",
			"Maintain current irrigation and fertilization schedule.",
		},
	},
	"wheat_yellow_rust": {
		Title:   "Wheat Yellow (Stripe) Rust",
		Summary: "Cool-weather rust forming yellow stripes along leaf veins.",
		Actions: []string{
			"Spray propiconazole or tebuconazole as soon as stripes appear.",
			"Scout neighbouring plots; spores travel far on wind.",
			"Prefer resistant varieties next season in rust-prone zones.",
		},
	},
	"wheat_leaf_rust": {
		Title:   "Wheat Leaf (Brown) Rust",
		Summary: "Orange-brown pustules scattered on the upper leaf surface.",
		Actions: []string{
			"Apply a triazole fungicide before pustules reach the flag leaf.",
			"Remove volunteer wheat nearby; it harbours inoculum between seasons.",
		},
	},
	"wheat_healthy": {
		Title:   "Healthy Wheat",
		Summary: "No disease indicators detected on the sampled leaf.",
		Actions: []string{
			"Re-check at flag leaf emergence when rust risk peaks.",
		},
	},
	"maize_leaf_blight": {
		Title:   "Maize Leaf Blight",
		Summary: "Elongated grey-tan lesions that merge and dry out whole leaves.",
		Actions: []string{
			"Spray mancozeb or azoxystrobin at lesion onset.",
			"Rotate away from maize for a season; the fungus overwinters in residue.",
			"Bury or remove infected stubble after harvest.",
		},
	},
	"maize_healthy": {
		Title:   "Healthy Maize",
		Summary: "No disease indicators detected on the sampled leaf.",
		Actions: []string{
			"Continue routine scouting, especially after warm humid spells.",
		},
	},
	"cotton_leaf_curl": {
		Title:   "Cotton Leaf Curl",
		Summary: "Viral curling spread by whitefly; no direct chemical cure.",
		Actions: []string{
			"Control whitefly vectors with imidacloprid or yellow sticky traps.",
			"Rogue out severely curled plants to limit spread.",
			"Plant tolerant varieties in the next cycle.",
		},
	},
	"cotton_healthy": {
		Title:   "Healthy Cotton",
		Summary: "No disease indicators detected on the sampled leaf.",
		Actions: []string{
			"Monitor whitefly counts weekly; early vector control prevents leaf curl.",
		},
	},
	"sugarcane_red_rot": {
		Title:   "Sugarcane Red Rot",
		Summary: "Internal reddening of the stalk; infected canes rarely recover.",
		Actions: []string{
			"Uproot and burn infected clumps; do not use them as seed cane.",
			"Treat seed setts with carbendazim before the next planting.",
			"Improve drainage; waterlogging accelerates the rot.",
		},
	},
	"sugarcane_healthy": {
		Title:   "Healthy Sugarcane",
		Summary: "No disease indicators detected on the sampled leaf.",
		Actions: []string{
			"Inspect stalk bases monthly during the rainy season.",
		},
	},
	"default": {
		Title:   "Unrecognized Condition",
		Summary: "The condition could not be matched to a known disease profile.",
		Actions: []string{
			"Retake the photo in daylight with the affected leaf filling the frame.",
			"Consult a local agricultural extension officer with a physical sample.",
		},
	},
}

// AdviceFor returns the recommendation for a canonical disease key,
// falling back to the default entry.
func AdviceFor(diseaseKey string) Recommendation {
	if rec, ok := adviceTable[diseaseKey]; ok {
		return rec
	}
	return adviceTable["default"]
}
