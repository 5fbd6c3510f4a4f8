// Package priority implements the four campaign-ranking algorithms the
// main state machine chooses between when more than one campaign is
// eligible to earn drops at once.
package priority

import (
	"math"
	"time"

	"twitchdropsfarmer/internal/model"
)

// expiredScore is returned for a campaign that has already ended; it
// sorts below every other possible score.
const expiredScore = -math.MaxFloat64

// Score ranks campaign among the user's priority_games list (1-indexed
// userPriority, listLength entries total) using the named algorithm.
// Higher is more important. userPriority and listLength are ignored by
// ENDING_SOONEST, which only ever compares expiry times.
func Score(algo model.PriorityAlgorithm, campaign model.DropsCampaign, now time.Time, userPriority, listLength int) float64 {
	switch algo {
	case model.PriorityList:
		return list(campaign, now, userPriority, listLength)
	case model.PriorityEndingSoonest:
		return endingSoonest(campaign, now)
	case model.PriorityAdaptive:
		return adaptive(campaign, now, userPriority, listLength)
	default: // BALANCED, and the zero value
		return balanced(campaign, now, userPriority, listLength)
	}
}

func timeRemainingHours(campaign model.DropsCampaign, now time.Time) float64 {
	return campaign.EndsAt.Sub(now).Hours()
}

// invertedPriority turns "lower user_priority = more important" into
// "higher score = more important": the first entry in an L-length list
// scores L, the last scores 1.
func invertedPriority(userPriority, listLength int) float64 {
	return float64(listLength - userPriority + 1)
}

// list implements the LIST algorithm: pure user-assigned order, ignoring
// time pressure entirely.
func list(campaign model.DropsCampaign, now time.Time, userPriority, listLength int) float64 {
	if timeRemainingHours(campaign, now) <= 0 {
		return expiredScore
	}
	return invertedPriority(userPriority, listLength)
}

// endingSoonest implements ENDING_SOONEST: campaigns closer to expiry
// score higher, regardless of user priority.
func endingSoonest(campaign model.DropsCampaign, now time.Time) float64 {
	hours := timeRemainingHours(campaign, now)
	if hours <= 0 {
		return expiredScore
	}
	return -hours
}

// maxUrgencyWindow is the horizon (in hours) beyond which a campaign's
// time urgency score saturates at zero; campaigns ending within it ramp
// up to 100 as the deadline approaches.
const maxUrgencyWindow = 72.0

// balanced implements BALANCED: a 60/40 blend of user priority and time
// urgency, matching the reference implementation's formula exactly.
func balanced(campaign model.DropsCampaign, now time.Time, userPriority, listLength int) float64 {
	hours := timeRemainingHours(campaign, now)
	if hours <= 0 {
		return expiredScore
	}

	timeUrgency := 100 * (1 - hours/maxUrgencyWindow)
	if timeUrgency < 0 {
		timeUrgency = 0
	}
	if timeUrgency > 100 {
		timeUrgency = 100
	}

	inverted := invertedPriority(userPriority, listLength)
	priorityScore := (inverted / float64(listLength)) * 100

	const priorityWeight, timeWeight = 0.60, 0.40
	blended := priorityWeight*priorityScore + timeWeight*timeUrgency

	return (blended/100)*inverted + blended*0.1
}

// adaptive implements ADAPTIVE: a risk-based boost that grows as the
// time remaining approaches the estimated time needed to finish the
// campaign's remaining drops, again matching the reference formula.
func adaptive(campaign model.DropsCampaign, now time.Time, userPriority, listLength int) float64 {
	hours := timeRemainingHours(campaign, now)
	if hours <= 0 {
		return expiredScore
	}

	hoursNeeded := float64(campaign.RemainingMinutes()) / 60

	const bufferFactor = 1.2
	var timeRisk float64
	if hoursNeeded > 0 {
		timeRisk = 1 - (hours / (hoursNeeded * bufferFactor))
		if timeRisk < 0 {
			timeRisk = 0
		}
	}

	inverted := invertedPriority(userPriority, listLength)
	boost := inverted * timeRisk * 10

	return inverted + boost
}
