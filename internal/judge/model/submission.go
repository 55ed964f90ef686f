package model

// Submission is one candidate program plus its ordered test cases.
// It is not modified once accepted.
type Submission struct {
	ID         string     `json:"submission_id,omitempty"`
	Language   string     `json:"language"`
	SourceCode string     `json:"source_code"`
	TestCases  []TestCase `json:"test_cases"`
}

// TestCase is identified only by its position in the submission.
type TestCase struct {
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expected_output" yaml:"expectedOutput"`
}

// SubmissionMessage is the Kafka payload for queued submissions.
type SubmissionMessage struct {
	SubmissionID string     `json:"submission_id"`
	Language     string     `json:"language"`
	SourceCode   string     `json:"source_code"`
	TestCases    []TestCase `json:"test_cases"`
}

// Submission converts the queued payload into a submission.
func (m SubmissionMessage) Submission() Submission {
	return Submission{
		ID:         m.SubmissionID,
		Language:   m.Language,
		SourceCode: m.SourceCode,
		TestCases:  m.TestCases,
	}
}
