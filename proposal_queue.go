package mls

import "fmt"

// proposalEntry is one insertion-ordered slot of a ProposalQueue.
type proposalEntry struct {
	reference ProposalReference
	proposal  Proposal
	sender    Sender
}

// ProposalQueue is the insertion-ordered, de-duplicated-by-reference
// collection of pending Add/Update/Remove/PreSharedKey/ReInit/
// ExternalInit/GroupContextExtensions proposals spec.md §3/§4.7
// describes. Keyed internally by the string form of the reference
// hash, since a ProposalReference's []byte field makes the struct
// itself an invalid map key.
type ProposalQueue struct {
	suite   CipherSuite
	order   []string
	entries map[string]proposalEntry
}

func NewProposalQueue(suite CipherSuite) *ProposalQueue {
	return &ProposalQueue{suite: suite, entries: map[string]proposalEntry{}}
}

// FromProposalsByReference hashes each proposal to a ProposalReference
// and inserts preserving input order, collapsing duplicate references.
func FromProposalsByReference(suite CipherSuite, proposals []Proposal, sender Sender) (*ProposalQueue, error) {
	q := NewProposalQueue(suite)
	for _, p := range proposals {
		ref, err := NewProposalReference(suite, p)
		if err != nil {
			return nil, err
		}
		q.insert(ref, p, sender)
	}
	return q, nil
}

func (q *ProposalQueue) insert(ref ProposalReference, p Proposal, sender Sender) {
	key := string(ref.Hash)
	if _, ok := q.entries[key]; ok {
		return
	}
	q.entries[key] = proposalEntry{reference: ref, proposal: p, sender: sender}
	q.order = append(q.order, key)
}

// FromCommittedProposals resolves a Commit's ProposalOrRef list against
// availableProposals (typically the sender's own outstanding
// ProposalQueue); an unresolved reference fails with ProposalNotFound.
// The resulting order matches the commit's stated order.
func FromCommittedProposals(suite CipherSuite, proposalOrRefs []ProposalOrRef, available *ProposalQueue, sender Sender) (*ProposalQueue, error) {
	q := NewProposalQueue(suite)
	for _, por := range proposalOrRefs {
		switch por.Type {
		case ProposalOrRefTypeProposal:
			ref, err := NewProposalReference(suite, *por.Proposal)
			if err != nil {
				return nil, err
			}
			q.insert(ref, *por.Proposal, sender)
		case ProposalOrRefTypeReference:
			entry, ok := available.entries[string(por.Reference.Hash)]
			if !ok {
				return nil, fmt.Errorf("%w: %x", ErrProposalNotFound, por.Reference.Hash)
			}
			q.insert(entry.reference, entry.proposal, entry.sender)
		default:
			return nil, fmt.Errorf("%w: unknown proposal-or-ref type %d", ErrInputDecode, por.Type)
		}
	}
	return q, nil
}

// FilteredByType returns entries of the given type in queue order.
func (q *ProposalQueue) FilteredByType(t ProposalType) []Proposal {
	out := make([]Proposal, 0, len(q.order))
	for _, key := range q.order {
		e := q.entries[key]
		if e.proposal.ProposalType == t {
			out = append(out, e.proposal)
		}
	}
	return out
}

// Contains reports whether every given reference is present.
func (q *ProposalQueue) Contains(refs []ProposalReference) bool {
	for _, r := range refs {
		if _, ok := q.entries[string(r.Hash)]; !ok {
			return false
		}
	}
	return true
}

// All returns every proposal in queue order.
func (q *ProposalQueue) All() []Proposal {
	out := make([]Proposal, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, q.entries[key].proposal)
	}
	return out
}

// Len reports the number of distinct (by reference) proposals queued.
func (q *ProposalQueue) Len() int { return len(q.order) }

// Add inserts a freshly authored proposal from sender.
func (q *ProposalQueue) Add(p Proposal, sender Sender) (ProposalReference, error) {
	ref, err := NewProposalReference(q.suite, p)
	if err != nil {
		return ProposalReference{}, err
	}
	q.insert(ref, p, sender)
	return ref, nil
}
