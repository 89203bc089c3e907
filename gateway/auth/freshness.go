package auth

const millisPerHour = 3_600_000

// Fresh reports whether a client-supplied timestamp falls inside the
// configured tolerance window around the server clock. Tokens older than
// maxAgeHours or further than maxAheadHours in the future are refused; the
// exact boundary is accepted.
func Fresh(clientTimeMs, serverTimeMs int64, maxAgeHours, maxAheadHours int) bool {
	elapsed := serverTimeMs - clientTimeMs
	if elapsed > int64(maxAgeHours)*millisPerHour {
		return false
	}
	if -elapsed > int64(maxAheadHours)*millisPerHour {
		return false
	}
	return true
}
