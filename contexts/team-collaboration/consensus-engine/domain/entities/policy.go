package entities

type PolicyKind string

const (
	PolicyMajority      PolicyKind = "majority"
	PolicyUnanimous     PolicyKind = "unanimous"
	PolicyThreshold     PolicyKind = "threshold"
	PolicyOwnerApproval PolicyKind = "owner_approval"
)

// VotingPolicy is fixed when the subject is created.
type VotingPolicy struct {
	Kind              PolicyKind
	RequiredApprovals int
}

func MajorityPolicy() VotingPolicy {
	return VotingPolicy{Kind: PolicyMajority}
}

func UnanimousPolicy() VotingPolicy {
	return VotingPolicy{Kind: PolicyUnanimous}
}

func ThresholdPolicy(requiredApprovals int) VotingPolicy {
	return VotingPolicy{Kind: PolicyThreshold, RequiredApprovals: requiredApprovals}
}

func OwnerApprovalPolicy() VotingPolicy {
	return VotingPolicy{Kind: PolicyOwnerApproval}
}

func (p VotingPolicy) Valid() bool {
	switch p.Kind {
	case PolicyMajority, PolicyUnanimous, PolicyOwnerApproval:
		return true
	case PolicyThreshold:
		return p.RequiredApprovals > 0
	default:
		return false
	}
}
