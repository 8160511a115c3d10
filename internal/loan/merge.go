package loan

import (
	"time"
)

// Merge folds an externally loaded snapshot into the in-memory state and
// returns the result as a new value; neither input is modified.
//
// local is the driver's view, which may hold turns that were never written;
// external is whatever was last persisted, possibly by a background worker.
// Ownership is partitioned: the driver owns stage, turns and extracted
// details, the document verifier owns scores on document uploads, and the
// sanction trigger owns the sanction letter id.
func Merge(local, external *State) *State {
	if local == nil {
		return external.Clone()
	}
	out := local.Clone()
	if external == nil {
		return out
	}
	if external.SessionID != "" && out.SessionID != "" && external.SessionID != out.SessionID {
		return out
	}

	out.Messages = mergeMessages(out.Messages, external.Messages)
	out.Errors = mergeErrors(out.Errors, external.Errors)

	for id, ext := range external.DocumentUploads {
		cur, ok := out.DocumentUploads[id]
		// An unscored external copy is older than a scored local one.
		if ok && cur.Scored() && !ext.Scored() {
			continue
		}
		out.DocumentUploads[id] = ext
	}

	for key, value := range external.CustomerDetails {
		out.CustomerDetails.Fill(key, value)
	}
	mergeLoanDetails(&out.LoanDetails, external.LoanDetails)

	vs := &out.VerificationStatus
	evs := external.VerificationStatus
	vs.CustomerVerified = vs.CustomerVerified || evs.CustomerVerified
	vs.PhoneVerified = vs.PhoneVerified || evs.PhoneVerified
	vs.AddressVerified = vs.AddressVerified || evs.AddressVerified
	vs.AccountDetailsVerified = vs.AccountDetailsVerified || evs.AccountDetailsVerified

	if !out.Decision.Final() && external.Decision.Final() {
		out.Decision = external.Decision
		out.UnderwritingResult = external.UnderwritingResult
		out.UnderwritingResult.Conditions = append([]string(nil), external.UnderwritingResult.Conditions...)
	}

	if out.SanctionLetterID == "" && external.SanctionLetterID != "" {
		out.SanctionLetterID = external.SanctionLetterID
		out.Documentation = external.Documentation
		if out.Documentation.Status != DocumentationCompleted {
			now := time.Now().UTC()
			out.Documentation.Status = DocumentationCompleted
			out.Documentation.CompletedAt = &now
		}
	}

	if external.Version > out.Version {
		out.Version = external.Version
	}
	if external.LastUpdated.After(out.LastUpdated) {
		out.LastUpdated = external.LastUpdated
	}
	if out.StartTime.IsZero() || (!external.StartTime.IsZero() && external.StartTime.Before(out.StartTime)) {
		out.StartTime = external.StartTime
	}

	out.RecomputeDerived()
	return out
}

// MergeWorkerOutput is the narrow form of Merge used when local must not
// take back what an abandoned write published. Only the workers' output is
// folded in: document uploads and their scores, a sanction letter together
// with the decision it was issued against, and messages that are not in
// withdrawn.
func MergeWorkerOutput(local, external *State, withdrawn []Message) *State {
	if local == nil {
		return external.Clone()
	}
	out := local.Clone()
	if external == nil {
		return out
	}
	if external.SessionID != "" && out.SessionID != "" && external.SessionID != out.SessionID {
		return out
	}

	skip := make(map[string]struct{}, len(withdrawn))
	for _, m := range withdrawn {
		skip[messageKey(m)] = struct{}{}
	}
	var kept []Message
	for _, m := range external.Messages {
		if _, ok := skip[messageKey(m)]; !ok {
			kept = append(kept, m)
		}
	}
	out.Messages = mergeMessages(out.Messages, kept)

	for id, ext := range external.DocumentUploads {
		cur, ok := out.DocumentUploads[id]
		if ok && cur.Scored() && !ext.Scored() {
			continue
		}
		out.DocumentUploads[id] = ext
	}

	if out.SanctionLetterID == "" && external.SanctionLetterID != "" {
		out.SanctionLetterID = external.SanctionLetterID
		out.Documentation = external.Documentation
		if !out.Decision.Final() {
			out.Decision = external.Decision
			out.UnderwritingResult = external.UnderwritingResult
			out.UnderwritingResult.Conditions = append([]string(nil), external.UnderwritingResult.Conditions...)
		}
	}

	if external.Version > out.Version {
		out.Version = external.Version
	}
	if external.LastUpdated.After(out.LastUpdated) {
		out.LastUpdated = external.LastUpdated
	}
	out.RecomputeDerived()
	return out
}

// mergeMessages appends external messages the local log does not have yet,
// preserving external order. When external extends local this is exactly
// the external suffix; local entries are never dropped or reordered.
func mergeMessages(local, external []Message) []Message {
	seen := make(map[string]struct{}, len(local))
	for _, m := range local {
		seen[messageKey(m)] = struct{}{}
	}
	for _, m := range external {
		key := messageKey(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		local = append(local, m)
	}
	return local
}

func messageKey(m Message) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return "v:" + string(m.Role) + "|" + m.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + m.Content
}

func mergeErrors(local, external []ErrorEntry) []ErrorEntry {
	seen := make(map[string]struct{}, len(local))
	key := func(e ErrorEntry) string {
		return e.Type + "|" + e.Agent + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.Message
	}
	for _, e := range local {
		seen[key(e)] = struct{}{}
	}
	for _, e := range external {
		k := key(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		local = append(local, e)
	}
	return local
}

func mergeLoanDetails(dst *LoanDetails, src LoanDetails) {
	if dst.Amount == 0 {
		dst.Amount = src.Amount
	}
	if dst.Tenure == 0 {
		dst.Tenure = src.Tenure
	}
	if dst.Purpose == "" {
		dst.Purpose = src.Purpose
	}
	if dst.LoanType == "" {
		dst.LoanType = src.LoanType
	}
	if dst.InterestRate == 0 {
		dst.InterestRate = src.InterestRate
	}
	if dst.EMI == 0 {
		dst.EMI = src.EMI
	}
	if dst.ProcessingFee == 0 {
		dst.ProcessingFee = src.ProcessingFee
	}
	if dst.SelectedOffer == "" {
		dst.SelectedOffer = src.SelectedOffer
	}
	if len(dst.Offers) == 0 && len(src.Offers) > 0 {
		dst.Offers = append([]Offer(nil), src.Offers...)
	}
}
