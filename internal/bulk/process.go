package bulk

import "time"

// Partitioned is the final classification of a parsed file under its
// rejection mode.
type Partitioned struct {
	Items         []ItemResult
	AcceptedCount int
	RejectedCount int
	Status        string
}

// Partition applies the rejection-mode policy to a parsed file.
//
// PARTIAL_REJECTION lets accepted items proceed: COMPLETED with no rejects,
// PARTIALLY_ACCEPTED with a mix, REJECTED when nothing survived.
// FULL_REJECTION with any rejected line reports every item REJECTED,
// originally-valid ones included, and nothing executes.
func Partition(parsed *Parsed, rejectionMode string) *Partitioned {
	if rejectionMode == FullRejection && parsed.RejectedCount > 0 {
		items := make([]ItemResult, len(parsed.Items))
		for i, item := range parsed.Items {
			item.Status = ItemRejected
			if item.ErrorMessage == "" {
				item.ErrorMessage = "Rejected due to full rejection mode"
			}
			items[i] = item
		}
		return &Partitioned{
			Items:         items,
			AcceptedCount: 0,
			RejectedCount: parsed.TotalCount(),
			Status:        StatusRejected,
		}
	}

	status := StatusCompleted
	switch {
	case parsed.AcceptedCount == 0:
		status = StatusRejected
	case parsed.RejectedCount > 0:
		status = StatusPartiallyAccepted
	}
	return &Partitioned{
		Items:         parsed.Items,
		AcceptedCount: parsed.AcceptedCount,
		RejectedCount: parsed.RejectedCount,
		Status:        status,
	}
}

// BuildReport assembles the immutable report for a finished file.
func BuildReport(fileID string, p *Partitioned, generatedAt time.Time) *Report {
	items := p.Items
	if items == nil {
		items = []ItemResult{}
	}
	return &Report{
		FileID:        fileID,
		Status:        p.Status,
		TotalCount:    len(items),
		AcceptedCount: p.AcceptedCount,
		RejectedCount: p.RejectedCount,
		Items:         items,
		GeneratedAt:   generatedAt,
	}
}

// SchemaFailure is the partition result for a file that hard-rejected at the
// schema stage: no items, REJECTED.
func SchemaFailure() *Partitioned {
	return &Partitioned{Items: []ItemResult{}, Status: StatusRejected}
}
