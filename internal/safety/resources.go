package safety

import "strings"

// DefaultRegion is used when a region code is empty or unknown.
const DefaultRegion = "US"

type Resources struct {
	Region    string `json:"region"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Emergency string `json:"emergency"`
}

var regionResources = map[string]Resources{
	"US": {Region: "US", Primary: "988 (Suicide & Crisis Lifeline)", Secondary: "Crisis Text Line: text HOME to 741741", Emergency: "911"},
	"UK": {Region: "UK", Primary: "116 123 (Samaritans)", Secondary: "Text SHOUT to 85258", Emergency: "999"},
	"CA": {Region: "CA", Primary: "1-833-456-4566 (Talk Suicide Canada)", Secondary: "Crisis Text Line: text CONNECT to 686868", Emergency: "911"},
	"AU": {Region: "AU", Primary: "13 11 14 (Lifeline)", Secondary: "1800 55 1800 (Kids Helpline)", Emergency: "000"},
	"IN": {Region: "IN", Primary: "1860 2662 345 (Vandrevala Foundation)", Secondary: "9152987821 (AASRA)", Emergency: "112"},
}

// LookupResources returns the crisis bundle for region, falling back to
// DefaultRegion.
func LookupResources(region string) Resources {
	if r, ok := regionResources[strings.ToUpper(strings.TrimSpace(region))]; ok {
		return r
	}
	return regionResources[DefaultRegion]
}
