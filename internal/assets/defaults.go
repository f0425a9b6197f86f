package assets

// Known slots rendered by the landing page.
const (
	SlotHero           = "hero"
	SlotEggSingle      = "egg_single"
	SlotOriginStrip    = "origin_strip"
	SlotEvolutionStrip = "evolution_strip"
	SlotNeighborhood   = "neighborhood"
	SlotInfectionGrid  = "infection_grid"
	SlotCryptoGrid     = "crypto_grid"
	SlotFinalFullbody  = "final_fullbody"
)

var defaultAssets = map[string]string{
	SlotHero:           "https://i.postimg.cc/gknKFwmc/Gemini_Generated_Image_v1i4ezv1i4ezv1i4.png",
	SlotEggSingle:      "https://i.postimg.cc/RCPTD1rj/Gemini_Generated_Image_lwotyllwotyllwot.png",
	SlotOriginStrip:    "https://i.postimg.cc/BZhCV599/Gemini_Generated_Image_f1eq9wf1eq9wf1eq.png",
	SlotEvolutionStrip: "https://i.postimg.cc/28VxRqr1/Gemini_Generated_Image_vw7fo5vw7fo5vw7f.png",
	SlotNeighborhood:   "https://i.postimg.cc/HWSth0DG/Gemini_Generated_Image_j1fysej1fysej1fy.png",
	SlotInfectionGrid:  "https://i.postimg.cc/NFP72t7k/Gemini_Generated_Image_j376n5j376n5j376.png",
	SlotCryptoGrid:     "https://i.postimg.cc/Y2XxsNKt/Gemini_Generated_Image_p0yfcwp0yfcwp0yf.png",
	SlotFinalFullbody:  "https://i.postimg.cc/gknKFwmc/Gemini_Generated_Image_v1i4ezv1i4ezv1i4.png",
}

// Defaults returns a fresh copy of the compiled-in slot defaults.
func Defaults() map[string]string {
	m := make(map[string]string, len(defaultAssets))
	for k, v := range defaultAssets {
		m[k] = v
	}
	return m
}
