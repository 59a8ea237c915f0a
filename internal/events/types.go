package events

// Application identifiers of the event producers.
const (
	AppSmartDriver = "SmartDriver"
	AppFitbitSleep = "Hermes-Citizen-Fitbit-Sleep"
	AppFitbitSteps = "Hermes-Citizen-Fitbit-Steps"
)

// Event types emitted by the driving app, in the order the per-type
// relay streams are mounted.
var SmartDriverEventTypes = []string{
	"Vehicle Location",
	"High Speed",
	"High Acceleration",
	"High Deceleration",
	"High Heart Rate",
	"Data Section",
	"Context Data",
}
