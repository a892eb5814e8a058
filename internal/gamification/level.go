package gamification

// XPPerLevel is the amount of XP that separates two consecutive levels.
const XPPerLevel = 500

// LevelForXP derives a profile level from its XP total. Every code path that
// reads or writes a level goes through this function.
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// XPForNextLevel returns how much XP is still missing to reach the next level.
func XPForNextLevel(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return LevelForXP(xp)*XPPerLevel - xp
}
