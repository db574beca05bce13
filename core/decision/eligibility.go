package decision

// CanVote reports whether voterID may cast a vote on an incident reported by
// reporterID against guiltyID. Reporters and accused parties never vote on
// their own incident.
func CanVote(voterID, reporterID, guiltyID string) bool {
	if voterID == "" {
		return false
	}
	if voterID == reporterID {
		return false
	}
	if guiltyID != "" && voterID == guiltyID {
		return false
	}
	return true
}

// CanWithdraw reports whether the caller owns the incident's report. The tag
// comparison is a fallback for records created before reporter ids were
// stored.
func CanWithdraw(reporterID, reporterTag, userID, userTag string) bool {
	if reporterID != "" {
		return userID == reporterID
	}
	return reporterTag != "" && userTag == reporterTag
}
