package nats

import (
	"fmt"
	"strings"
)

// Subject naming convention:
// sor.{kind}.{qualifier}.{key}
// Examples:
// - sor.decisions.TCS
// - sor.venues.metrics.NSE
// - sor.algorithms.performance.TWAP_30

// Subject roots
const (
	SubjectRoot                 = "sor"
	SubjectDecisions            = "sor.decisions"
	SubjectVenueMetrics         = "sor.venues.metrics"
	SubjectAlgorithmPerformance = "sor.algorithms.performance"
)

// DefaultStream is the JetStream stream capturing every sor.> subject
const DefaultStream = "SOR"

// StreamSubjects returns the subjects bound to the router stream
func StreamSubjects() []string {
	return []string{SubjectRoot + ".>"}
}

// DecisionSubject is where decisions for symbol are published
func DecisionSubject(symbol string) string {
	return SubjectDecisions + "." + Token(symbol)
}

// VenueMetricsSubject is where metric pushes for venueID arrive
func VenueMetricsSubject(venueID string) string {
	return SubjectVenueMetrics + "." + Token(venueID)
}

// PerformanceSubject is where execution samples for algorithmID arrive
func PerformanceSubject(algorithmID string) string {
	return SubjectAlgorithmPerformance + "." + Token(algorithmID)
}

// ParseVenueMetricsSubject extracts the venue id
func ParseVenueMetricsSubject(subject string) (string, error) {
	return lastToken(subject, SubjectVenueMetrics)
}

// ParsePerformanceSubject extracts the algorithm id
func ParsePerformanceSubject(subject string) (string, error) {
	return lastToken(subject, SubjectAlgorithmPerformance)
}

// Token makes s safe as a single subject token. Separators and wildcards
// become underscores.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// DurableName derives a consumer name from a subject; durable names may not
// contain dots or wildcards
func DurableName(prefix, subject string) string {
	return prefix + "-" + strings.NewReplacer(".", "-", "*", "all", ">", "rest").Replace(subject)
}

func lastToken(subject, root string) (string, error) {
	if !strings.HasPrefix(subject, root+".") {
		return "", fmt.Errorf("invalid subject %q: want %s.{id}", subject, root)
	}
	key := strings.TrimPrefix(subject, root+".")
	if key == "" || strings.Contains(key, ".") {
		return "", fmt.Errorf("invalid subject %q: want %s.{id}", subject, root)
	}
	return key, nil
}
