package engine

// AggregateRoom folds a room's per-sensor naive states into one room
// naive state: Present annihilates (any Present sensor makes the room
// Present), otherwise the sensor with the shortest
// absence wins, and Uninitialized only survives when every sensor is
// Uninitialized (or the room has no sensors at all). The reduction is
// commutative and associative, so the result does not depend on
// iteration order — callers may pass states in any order, e.g. map
// iteration order.
func AggregateRoom(states []SensorMemoryNaiveState) SensorMemoryNaiveState {
	result := Uninitialized
	for _, s := range states {
		if s.Less(result) {
			result = s
		}
	}
	return result
}
