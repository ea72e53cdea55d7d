package booking

// Decision is the outcome of evaluating a Policy.
type Decision int

const (
	Allowed Decision = iota
	DeniedMonthlyLimit
	DeniedStayTooLong
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case DeniedMonthlyLimit:
		return "denied: monthly limit exceeded"
	case DeniedStayTooLong:
		return "denied: stay too long"
	default:
		return "unknown decision"
	}
}

// Err maps a denial to its sentinel error; Allowed yields nil.
func (d Decision) Err() error {
	switch d {
	case DeniedMonthlyLimit:
		return ErrMonthlyLimitExceeded
	case DeniedStayTooLong:
		return ErrStayTooLong
	default:
		return nil
	}
}

// Policy holds the business rules applied to non-admin bookings.
type Policy struct {
	// MaxNights is the longest stay, in inclusive days, a guest may book.
	MaxNights int
	// MonthlyLimit is how many active reservations a guest may hold whose
	// stay starts in the same calendar month.
	MonthlyLimit int
}

func DefaultPolicy() Policy {
	return Policy{MaxNights: 7, MonthlyLimit: 2}
}

// Evaluate applies the monthly limit and then the maximum stay to candidate.
// prior is the principal's reservation set as read by the caller; Evaluate
// never touches storage.
//
// Admins bypass every rule.
func (p Policy) Evaluate(candidate DateRange, principal Principal, prior []Reservation) Decision {
	if principal.IsAdmin {
		return Allowed
	}

	month := MonthOf(candidate.From)
	count := 0
	for _, r := range prior {
		if !r.Active() || r.PrincipalID != principal.ID {
			continue
		}
		if month.Contains(r.Range.From) {
			count++
		}
	}
	if count >= p.MonthlyLimit {
		return DeniedMonthlyLimit
	}

	if candidate.Nights() > p.MaxNights {
		return DeniedStayTooLong
	}
	return Allowed
}
