package vitalerr

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/vitals.report/internal/monitoring"
)

// Severity ranks how disruptive an error is to the running session.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category names the subsystem the user should look at.
type Category string

const (
	CategoryCamera      Category = "camera"
	CategorySignal      Category = "signal"
	CategoryEnvironment Category = "environment"
	CategorySystem      Category = "system"
	CategoryUser        Category = "user"
	CategoryNetwork     Category = "network"
)

// Classification is the user-facing interpretation of an error.
type Classification struct {
	Code            Code          `json:"code"`
	Kind            Kind          `json:"kind"`
	Severity        Severity      `json:"severity"`
	Category        Category      `json:"category"`
	Title           string        `json:"title"`
	UserMessage     string        `json:"user_message"`
	RecoverySteps   []string      `json:"recovery_steps"`
	Retryable       bool          `json:"retryable"`
	RequiresRestart bool          `json:"requires_restart"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
	Detail          string        `json:"detail,omitempty"`
}

// rule is the static guidance attached to a code.
type rule struct {
	severity   Severity
	category   Category
	title      string
	message    string
	steps      []string
	retryable  bool
	retryAfter time.Duration
}

var rules = map[Code]rule{
	CodeSignalTooShort: {
		severity: SeverityMedium, category: CategorySignal,
		title:   "Not enough signal yet",
		message: "The measurement needs a few more seconds of steady video.",
		steps: []string{
			"Keep your face still and in view",
			"Continue the current step until the timer completes",
		},
		retryable: true, retryAfter: 5 * time.Second,
	},
	CodeInsufficientSamples: {
		severity: SeverityMedium, category: CategorySignal,
		title:   "Measurement too short",
		message: "Not enough frames were captured for a reliable reading.",
		steps: []string{
			"Stay in front of the camera for the full step duration",
			"Check that the camera is delivering frames continuously",
		},
		retryable: true, retryAfter: 5 * time.Second,
	},
	CodeNoFrequencyInRange: {
		severity: SeverityMedium, category: CategorySignal,
		title:   "No pulse signal found",
		message: "No heart-rate pattern could be found in the captured video.",
		steps: []string{
			"Improve lighting on your face",
			"Move closer to the camera",
			"Hold still while measuring",
		},
		retryable: true, retryAfter: 10 * time.Second,
	},
	CodeInvalidSampleRate: {
		severity: SeverityHigh, category: CategorySystem,
		title:   "Invalid camera timing",
		message: "The camera frame rate could not be determined.",
		steps: []string{
			"Restart the measurement",
			"Select a camera that reports a stable frame rate",
		},
	},
	CodeInvalidTraceShape: {
		severity: SeverityHigh, category: CategorySystem,
		title:   "Invalid measurement data",
		message: "The captured color data was malformed.",
		steps:   []string{"Restart the measurement"},
	},
	CodeUnknownMethod: {
		severity: SeverityHigh, category: CategorySystem,
		title:   "Unsupported analysis method",
		message: "The configured signal extraction method is not recognised.",
		steps:   []string{"Check the separation_method setting", "Restart the measurement"},
	},
	CodeUnknownProtocol: {
		severity: SeverityHigh, category: CategoryUser,
		title:   "Unknown measurement protocol",
		message: "The requested measurement protocol does not exist.",
		steps:   []string{"Choose one of the available protocols", "Restart the measurement"},
	},
	CodeInvalidConfig: {
		severity: SeverityHigh, category: CategorySystem,
		title:   "Invalid configuration",
		message: "The measurement configuration is invalid.",
		steps:   []string{"Review the configuration file", "Restart the measurement"},
	},
	CodeNoActiveProtocol: {
		severity: SeverityMedium, category: CategoryUser,
		title:   "No measurement in progress",
		message: "Start a measurement before continuing.",
		steps:   []string{"Start a measurement protocol"},
	},
	CodeInvalidStateTransition: {
		severity: SeverityMedium, category: CategoryUser,
		title:   "Action not available",
		message: "That action is not available at this point of the measurement.",
		steps:   []string{"Resume or restart the measurement"},
	},
	CodeMissingDependency: {
		severity: SeverityCritical, category: CategorySystem,
		title:   "Analysis component unavailable",
		message: "A required analysis component is not installed.",
		steps: []string{
			"Switch to the chrom separation method",
			"Contact support if the problem persists",
		},
	},
	CodeNoRegionDetected: {
		severity: SeverityLow, category: CategoryCamera,
		title:   "Face not detected",
		message: "We cannot see your face clearly.",
		steps: []string{
			"Center your face in the camera view",
			"Remove anything covering your forehead",
			"Improve lighting on your face",
		},
		retryable: true, retryAfter: 2 * time.Second,
	},
}

var unknownRule = rule{
	severity: SeverityHigh, category: CategorySystem,
	title:   "Unexpected error",
	message: "An unexpected problem interrupted the measurement.",
	steps:   []string{"Restart the measurement", "Contact support if the problem persists"},
}

// keywordRules classify foreign errors by message when no typed match exists.
var keywordRules = []struct {
	keywords []string
	rule     rule
}{
	{[]string{"camera", "webcam", "video device", "capture"}, rule{
		severity: SeverityHigh, category: CategoryCamera,
		title:   "Camera problem",
		message: "The camera stopped delivering video.",
		steps: []string{
			"Check that no other application is using the camera",
			"Reconnect the camera",
			"Restart the measurement",
		},
	}},
	{[]string{"light", "bright", "exposure", "dark"}, rule{
		severity: SeverityLow, category: CategoryEnvironment,
		title:   "Lighting problem",
		message: "The lighting is not suitable for measurement.",
		steps: []string{
			"Face a window or lamp",
			"Avoid strong backlight",
		},
		retryable: true, retryAfter: 5 * time.Second,
	}},
	{[]string{"timeout", "connection", "network", "unreachable"}, rule{
		severity: SeverityMedium, category: CategoryNetwork,
		title:   "Connection problem",
		message: "The connection was interrupted.",
		steps:   []string{"Check your internet connection", "Try again"},
		retryable: true, retryAfter: 10 * time.Second,
	}},
}

// Classify maps err to severity, category and recovery guidance. A nil error
// yields the zero Classification.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	code := GetCode(err)
	r, ok := rules[code]
	if !ok {
		r = classifyForeign(err)
	}

	c := Classification{
		Code:          code,
		Kind:          code.Kind(),
		Severity:      r.severity,
		Category:      r.category,
		Title:         r.title,
		UserMessage:   r.message,
		RecoverySteps: append([]string(nil), r.steps...),
		Retryable:     r.retryable,
		RetryAfter:    r.retryAfter,
		Detail:        err.Error(),
	}
	c.RequiresRestart = c.Severity == SeverityHigh || c.Severity == SeverityCritical
	if c.RequiresRestart {
		c.Retryable = false
		c.RetryAfter = 0
	}
	return c
}

func classifyForeign(err error) rule {
	switch {
	case errors.Is(err, context.Canceled):
		return rule{
			severity: SeverityLow, category: CategoryUser,
			title:   "Measurement cancelled",
			message: "The measurement was cancelled.",
			steps:   []string{"Start the measurement again when ready"},
			retryable: true,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return rule{
			severity: SeverityMedium, category: CategoryNetwork,
			title:   "Measurement timed out",
			message: "The measurement took too long to respond.",
			steps:   []string{"Check your connection", "Try again"},
			retryable: true, retryAfter: 10 * time.Second,
		}
	case errors.Is(err, os.ErrPermission):
		return rule{
			severity: SeverityCritical, category: CategoryCamera,
			title:   "Camera access denied",
			message: "Camera access was denied.",
			steps: []string{
				"Allow camera access in your browser or system settings",
				"Restart the measurement",
			},
		}
	case errors.Is(err, os.ErrNotExist):
		return rule{
			severity: SeverityHigh, category: CategorySystem,
			title:   "Missing resource",
			message: "A required file could not be found.",
			steps:   []string{"Reinstall or reconfigure the application", "Restart the measurement"},
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return keywordRules[2].rule
	}

	msg := strings.ToLower(err.Error())
	for _, kr := range keywordRules {
		for _, kw := range kr.keywords {
			if strings.Contains(msg, kw) {
				return kr.rule
			}
		}
	}
	return unknownRule
}

// Record is one classified error kept in the classifier history.
type Record struct {
	At             time.Time
	Classification Classification
}

// Stats summarises the classifier history.
type Stats struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	BySeverity map[Severity]int `json:"by_severity"`
	Restarts   int              `json:"restarts"`
}

// Classifier classifies errors and keeps a bounded history for diagnostics.
// It is safe for concurrent use.
type Classifier struct {
	mu      sync.Mutex
	limit   int
	history []Record
	now     func() time.Time
	logf    monitoring.Logger
}

// NewClassifier creates a Classifier keeping at most limit records
// (100 when limit <= 0).
func NewClassifier(limit int, logf monitoring.Logger) *Classifier {
	if limit <= 0 {
		limit = 100
	}
	return &Classifier{limit: limit, now: time.Now, logf: logf}
}

// Handle classifies err, records it and returns the classification.
func (c *Classifier) Handle(err error) Classification {
	cl := Classify(err)
	if err == nil {
		return cl
	}

	c.mu.Lock()
	c.history = append(c.history, Record{At: c.now(), Classification: cl})
	if len(c.history) > c.limit {
		c.history = append(c.history[:0:0], c.history[len(c.history)-c.limit:]...)
	}
	c.mu.Unlock()

	c.logf.Logf("classified %s as %s/%s: %s", cl.Code, cl.Severity, cl.Category, cl.Detail)
	return cl
}

// History returns a copy of the recorded classifications, oldest first.
func (c *Classifier) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.history))
	copy(out, c.history)
	return out
}

// Stats returns counts over the recorded history.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Total:      len(c.history),
		ByCategory: make(map[Category]int),
		BySeverity: make(map[Severity]int),
	}
	for _, r := range c.history {
		s.ByCategory[r.Classification.Category]++
		s.BySeverity[r.Classification.Severity]++
		if r.Classification.RequiresRestart {
			s.Restarts++
		}
	}
	return s
}

// Clear drops the recorded history.
func (c *Classifier) Clear() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}
