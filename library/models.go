package library

import "time"

// Book is a catalog record. Copy counts live in CopySet, not here.
type Book struct {
	ID              int64  `db:"book_id" json:"id"`
	ISBN            string `db:"isbn" json:"isbn"`
	Name            string `db:"name" json:"name"`
	Author          string `db:"author" json:"author"`
	Publication     string `db:"publication" json:"publication"`
	Genre           string `db:"genre" json:"genre"`
	Language        string `db:"language" json:"language"`
	Description     string `db:"description" json:"description"`
	PublicationYear int    `db:"publication_year" json:"publication_year"`
	Pages           int    `db:"pages" json:"pages"`
	Type            string `db:"book_type" json:"type"`
}

// CopySet holds the on-shelf and owned counts of one Book.
// Available always equals Current > 0.
type CopySet struct {
	BookID    int64 `db:"book_id" json:"book_id"`
	Current   int   `db:"current_copies" json:"current_copies"`
	Total     int   `db:"total_copies" json:"total_copies"`
	Available bool  `db:"availability" json:"availability"`
}

// Borrowed is the number of copies currently out on loan.
func (c CopySet) Borrowed() int { return c.Total - c.Current }

// BookListing is a catalog row joined with its copy counts.
type BookListing struct {
	Book
	Current   int  `db:"current_copies" json:"current_copies"`
	Total     int  `db:"total_copies" json:"total_copies"`
	Available bool `db:"availability" json:"availability"`
}

// Member represents a registered library member.
type Member struct {
	ID                  int64      `db:"member_id" json:"id"`
	Name                string     `db:"name" json:"name"`
	MobileNo            string     `db:"mobile_no" json:"mobile_no"`
	Email               string     `db:"email_address" json:"email"`
	Subscription        string     `db:"subscription" json:"subscription"`
	MembershipStartDate time.Time  `db:"membership_start_date" json:"membership_start_date"`
	MembershipEndDate   *time.Time `db:"membership_end_date" json:"membership_end_date,omitempty"`
	BorrowLimit         int        `db:"borrow_limit" json:"borrow_limit"`
}

// Librarian is a system account. Password holds a bcrypt hash.
type Librarian struct {
	ID       int64  `db:"librarian_id" json:"id"`
	Name     string `db:"name" json:"name"`
	MobileNo string `db:"mobile_no" json:"mobile_no"`
	Email    string `db:"email_address" json:"email"`
	Username string `db:"username" json:"username"`
	Password string `db:"password" json:"-"`
	Role     string `db:"role" json:"role"`
}

// IssueRecord is an open loan of one copy of a Book to a Member.
type IssueRecord struct {
	ID               int64      `db:"issue_id" json:"id"`
	BookID           int64      `db:"book_id" json:"book_id"`
	MemberID         int64      `db:"member_id" json:"member_id"`
	IssueDate        time.Time  `db:"issue_date" json:"issue_date"`
	DueDate          time.Time  `db:"due_date" json:"due_date"`
	ActualReturnDate *time.Time `db:"actual_return_date" json:"actual_return_date,omitempty"`
	Fine             float64    `db:"fine" json:"fine"`
}

// ReturnReceipt describes a completed return.
type ReturnReceipt struct {
	IssueID     int64     `json:"issue_id"`
	BookID      int64     `json:"book_id"`
	MemberID    int64     `json:"member_id"`
	IssueDate   time.Time `json:"issue_date"`
	DueDate     time.Time `json:"due_date"`
	ReturnedAt  time.Time `json:"returned_at"`
	DaysOverdue int       `json:"days_overdue"`
	Fine        float64   `json:"fine"`
}

// Overdue reports whether the loan was returned after its due date.
func (r ReturnReceipt) Overdue() bool { return r.DaysOverdue > 0 }

// LoanListing is an open loan joined with book and member names.
type LoanListing struct {
	IssueRecord
	BookName   string `db:"book_name" json:"book_name"`
	MemberName string `db:"member_name" json:"member_name"`
}

// Stats summarizes the library state.
type Stats struct {
	TotalBooks   int `db:"total_books" json:"total_books"`
	TotalMembers int `db:"total_members" json:"total_members"`
	IssuedBooks  int `db:"issued_books" json:"issued_books"`
	OverdueBooks int `db:"overdue_books" json:"overdue_books"`
}
