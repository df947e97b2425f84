package models

// ConnectivityState is the process-wide network state.
type ConnectivityState string

const (
	StateOnline  ConnectivityState = "ONLINE"
	StateOffline ConnectivityState = "OFFLINE"
)

// StateOf maps an online flag to a ConnectivityState.
func StateOf(online bool) ConnectivityState {
	if online {
		return StateOnline
	}
	return StateOffline
}
