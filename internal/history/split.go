package history

// providerSharePercent is the provider's fixed cut of settled credits.
const providerSharePercent = 25

// Split divides a settled total between provider and platform.
//
// This is the only place the split is computed; settlement records it and
// reporting recomputes it, so the two always agree. Integer division rounds
// the provider share down, the platform share is the exact complement:
// provider + platform == total for every input.
func Split(total int64) (provider, platform int64) {
	if total <= 0 {
		return 0, 0
	}
	provider = total * providerSharePercent / 100
	platform = total - provider
	return provider, platform
}
