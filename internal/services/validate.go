package services

import "DecentCredit/internal/models"

type rule struct {
	field string
	ok    func(models.RecordContent) bool
	why   string
}

var contentRules = map[models.RecordType][]rule{
	models.RecordLoan: {
		{"amount", func(c models.RecordContent) bool { return c.Loan.Amount > 0 }, "must be nonzero"},
		{"loan_id", func(c models.RecordContent) bool { return c.Loan.LoanID != "" }, "is required"},
		{"term_months", func(c models.RecordContent) bool { return c.Loan.TermMonths > 0 }, "must be nonzero"},
		{"interest_rate", func(c models.RecordContent) bool {
			return c.Loan.InterestRate > 0 && c.Loan.InterestRate <= 100
		}, "must be in (0, 100]"},
	},
	models.RecordRepayment: {
		{"amount", func(c models.RecordContent) bool { return c.Repayment.Amount > 0 }, "must be nonzero"},
		{"loan_id", func(c models.RecordContent) bool { return c.Repayment.LoanID != "" }, "is required"},
	},
	models.RecordOverdue: {
		{"amount", func(c models.RecordContent) bool { return c.Overdue.Amount > 0 }, "must be nonzero"},
		{"overdue_days", func(c models.RecordContent) bool { return c.Overdue.OverdueDays > 0 }, "must be nonzero"},
	},
}

func validateSubmission(req SubmitRequest) error {
	if req.SubjectID == "" {
		return &ValidationError{Field: "subject_id", Reason: "is required"}
	}
	if !req.RecordType.Valid() {
		return &ValidationError{Field: "record_type", Reason: "unknown type " + string(req.RecordType)}
	}
	if kind := req.Content.Kind(); kind != req.RecordType {
		return &ValidationError{Field: "content", Reason: "does not match record type " + string(req.RecordType)}
	}
	for _, r := range contentRules[req.RecordType] {
		if !r.ok(req.Content) {
			return &ValidationError{Field: r.field, Reason: r.why}
		}
	}
	return nil
}
