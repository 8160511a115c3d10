package loan

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateWithMessages(n int) *State {
	s := NewState("merge")
	for i := 0; i < n; i++ {
		s.AddMessage(RoleUser, fmt.Sprintf("turn %d", i))
	}
	return s
}

func TestMergeNeverShrinksMessages(t *testing.T) {
	for _, tc := range []struct{ local, external int }{{5, 5}, {5, 3}, {5, 0}, {1, 1}} {
		t.Run(fmt.Sprintf("%d_%d", tc.local, tc.external), func(t *testing.T) {
			local := stateWithMessages(tc.local)
			external := local.Clone()
			external.Messages = external.Messages[:tc.external]
			external.DocumentUploads["doc-new"] = DocumentUpload{Type: DocSalarySlip, Status: DocumentUploaded}

			merged := Merge(local, external)
			assert.Len(t, merged.Messages, tc.local)
			assert.Contains(t, merged.DocumentUploads, "doc-new")
			if diff := cmp.Diff(local.Messages, merged.Messages); diff != "" {
				t.Fatalf("local messages changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeAppendsExternalSuffix(t *testing.T) {
	local := stateWithMessages(2)
	external := local.Clone()
	external.AddMessage(RoleAssistant, "documents verified")

	merged := Merge(local, external)
	require.Len(t, merged.Messages, 3)
	assert.Equal(t, "documents verified", merged.Messages[2].Content)
}

func TestMergeKeepsLocalTurnsWrittenDuringWorkerCycle(t *testing.T) {
	base := stateWithMessages(2)

	local := base.Clone()
	local.AddMessage(RoleUser, "my PAN is ABCDE1234F")

	external := base.Clone()
	external.AddMessage(RoleAssistant, "income proof verified")

	merged := Merge(local, external)
	require.Len(t, merged.Messages, 4)
	assert.Equal(t, "my PAN is ABCDE1234F", merged.Messages[2].Content)
	assert.Equal(t, "income proof verified", merged.Messages[3].Content)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	local := stateWithMessages(1)
	external := local.Clone()
	external.AddMessage(RoleAssistant, "hi")
	external.SanctionLetterID = "SL-1"

	_ = Merge(local, external)
	assert.Len(t, local.Messages, 1)
	assert.Empty(t, local.SanctionLetterID)
}

func TestMergeDocumentUploadsExternalWins(t *testing.T) {
	local := NewState("docs")
	local.DocumentUploads["d1"] = DocumentUpload{Type: DocSalarySlip, Status: DocumentUploaded}
	local.DocumentUploads["d2"] = DocumentUpload{Type: DocBankStatement, Status: DocumentUploaded}

	now := time.Now().UTC()
	external := local.Clone()
	external.DocumentUploads["d1"] = DocumentUpload{Type: DocSalarySlip, Status: DocumentApproved, Verified: true, Confidence: 0.8, VerifiedAt: &now}
	delete(external.DocumentUploads, "d2")

	merged := Merge(local, external)
	assert.Equal(t, DocumentApproved, merged.DocumentUploads["d1"].Status)
	assert.Contains(t, merged.DocumentUploads, "d2", "local-only uploads survive")

	// A stale, unscored external copy does not undo a score.
	stale := NewState("docs")
	stale.DocumentUploads["d1"] = DocumentUpload{Type: DocSalarySlip, Status: DocumentUploaded}
	again := Merge(merged, stale)
	assert.True(t, again.DocumentUploads["d1"].Verified)
}

func TestMergeRecomputesIncomeProofFlags(t *testing.T) {
	local := NewState("derived")
	local.VerificationStatus = VerificationStatus{
		CustomerVerified:       true,
		PhoneVerified:          true,
		AddressVerified:        true,
		AccountDetailsVerified: true,
		// Stale derived values that must not survive the merge.
		IncomeProofVerified:   true,
		IncomeProofConfidence: 0.9,
		Verified:              true,
	}
	now := time.Now().UTC()
	external := local.Clone()
	external.DocumentUploads["d1"] = DocumentUpload{Type: DocSalarySlip, Status: DocumentRejected, Confidence: 0.3, VerifiedAt: &now}

	merged := Merge(local, external)
	assert.False(t, merged.VerificationStatus.IncomeProofVerified)
	assert.InDelta(t, 0.3, merged.VerificationStatus.IncomeProofConfidence, 1e-9)
	assert.False(t, merged.VerificationStatus.Verified)
}

func TestMergePropagatesSanctionLetter(t *testing.T) {
	local := NewState("sanction")
	local.Decision = DecisionApproved
	external := local.Clone()
	external.SanctionLetterID = "SL-ABC"

	merged := Merge(local, external)
	assert.Equal(t, "SL-ABC", merged.SanctionLetterID)
	assert.True(t, merged.DocumentationComplete())

	// Once set locally it is never replaced.
	other := local.Clone()
	other.SanctionLetterID = "SL-OTHER"
	assert.Equal(t, "SL-ABC", Merge(merged, other).SanctionLetterID)
}

func TestMergeKeepsLocalStageAndFinalDecision(t *testing.T) {
	local := NewState("stage")
	local.Stage = StageUnderwriting
	require.NoError(t, local.SetDecision(DecisionApproved))

	external := local.Clone()
	external.Stage = StageVerification
	external.Decision = DecisionRejected

	merged := Merge(local, external)
	assert.Equal(t, StageUnderwriting, merged.Stage)
	assert.Equal(t, DecisionApproved, merged.Decision)
}

func TestMergeFillsMissingDetailsOnly(t *testing.T) {
	local := NewState("details")
	local.CustomerDetails[KeyName] = "Rajesh Kumar"
	external := local.Clone()
	external.CustomerDetails[KeyName] = ""
	external.CustomerDetails[KeyPAN] = "ABCDE1234F"

	merged := Merge(local, external)
	assert.Equal(t, "Rajesh Kumar", merged.CustomerDetails.String(KeyName))
	assert.Equal(t, "ABCDE1234F", merged.CustomerDetails.String(KeyPAN))
}

func TestMergeIgnoresOtherSessions(t *testing.T) {
	local := stateWithMessages(1)
	external := NewState("someone-else")
	external.AddMessage(RoleUser, "hello")
	assert.Len(t, Merge(local, external).Messages, 1)
}

func TestMergeNilInputs(t *testing.T) {
	s := stateWithMessages(2)
	assert.Len(t, Merge(s, nil).Messages, 2)
	assert.Len(t, Merge(nil, s).Messages, 2)
}

func TestMergeWorkerOutputDropsWithdrawnTurn(t *testing.T) {
	base := NewState("withdraw")
	base.Stage = StageUnderwriting
	base.AddMessage(RoleUser, "I uploaded my salary slip")

	// What the abandoned turn published before it failed.
	published := base.Clone()
	require.NoError(t, published.SetDecision(DecisionApproved))
	published.CustomerDetails[KeyPAN] = "ABCDE1234F"
	published.AddMessage(RoleAssistant, "Your loan is approved.")

	// The store after a worker ran on top of it.
	now := time.Now().UTC()
	external := published.Clone()
	external.DocumentUploads["d1"] = DocumentUpload{Type: DocSalarySlip, Status: DocumentApproved, Verified: true, Confidence: 0.9, VerifiedAt: &now}
	external.AddMessage(RoleAssistant, "Your salary slip was verified.")
	external.Version = 9

	local := base.Clone()
	local.AddMessage(RoleAssistant, "sorry")

	merged := MergeWorkerOutput(local, external, published.Messages)
	assert.Equal(t, DecisionPending, merged.Decision)
	assert.Empty(t, merged.CustomerDetails.String(KeyPAN))
	assert.Equal(t, StageUnderwriting, merged.Stage)
	assert.Contains(t, merged.DocumentUploads, "d1")
	assert.InDelta(t, 0.9, merged.VerificationStatus.IncomeProofConfidence, 1e-9)
	assert.Equal(t, int64(9), merged.Version)

	var contents []string
	for _, m := range merged.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"I uploaded my salary slip", "sorry", "Your salary slip was verified."}, contents)
}

func TestMergeWorkerOutputKeepsIssuedLetterWithItsDecision(t *testing.T) {
	local := NewState("issued")
	external := local.Clone()
	require.NoError(t, external.SetDecision(DecisionApproved))
	require.NoError(t, external.SetSanctionLetter("SL-7", "memory://SL-7"))

	merged := MergeWorkerOutput(local, external, nil)
	assert.Equal(t, "SL-7", merged.SanctionLetterID)
	assert.Equal(t, DecisionApproved, merged.Decision)
	assert.True(t, merged.DocumentationComplete())

	assert.Len(t, MergeWorkerOutput(stateWithMessages(1), NewState("someone-else"), nil).Messages, 1)
}
