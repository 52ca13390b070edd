package engine

// Transitions lists, per trigger, the states it may fire from. Terminal states
// are handled before this table is consulted.
var Transitions = map[TriggerType][]StateName{
	TrgAddPlayer:           {StateForming},
	TrgLobbyExpired:        {StateForming},
	TrgBalance:             {StateBalancing},
	TrgResultWindowExpired: {StateActive},
	TrgVoteDecided:         {StateAwaitingResult},
	TrgHold:                {StateActive, StateAwaitingResult},
	TrgManualEnd:           {StateActive, StateAwaitingResult, StateOnHold},
	TrgRoomDestroyed: {
		StateForming,
		StateBalancing,
		StateActive,
		StateAwaitingResult,
		StateOnHold,
	},
}

func allowed(from StateName, trg TriggerType) bool {
	for _, s := range Transitions[trg] {
		if s == from {
			return true
		}
	}
	return false
}

// terminates reports whether a trigger asks to end the match. Repeating one
// against a finished match is a no-op rather than an error.
func terminates(trg TriggerType) bool {
	switch trg {
	case TrgVoteDecided, TrgManualEnd, TrgRoomDestroyed:
		return true
	}
	return false
}
