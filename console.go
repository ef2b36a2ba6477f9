package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"library-circulation/library"
)

type console struct {
	ctx context.Context
	mgr *library.LibraryManager
	log zerolog.Logger
	in  io.Reader
	sc  *bufio.Scanner
	out io.Writer
}

func newConsole(ctx context.Context, mgr *library.LibraryManager, logger zerolog.Logger, in io.Reader, out io.Writer) *console {
	return &console{
		ctx: ctx,
		mgr: mgr,
		log: logger.With().Str("session", uuid.NewString()).Logger(),
		in:  in,
		sc:  bufio.NewScanner(in),
		out: out,
	}
}

func (c *console) printf(format string, args ...any) { fmt.Fprintf(c.out, format, args...) }
func (c *console) println(args ...any)               { fmt.Fprintln(c.out, args...) }

// prompt prints label and reads one trimmed line. ok is false on EOF.
func (c *console) prompt(label string) (string, bool) {
	c.printf("%s", label)
	if !c.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.sc.Text()), true
}

func (c *console) promptID(label string) (int64, bool) {
	s, ok := c.prompt(label)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		c.printf("Invalid ID: %s\n", s)
		return 0, false
	}
	return id, true
}

// readPassword masks input when attached to a terminal.
func (c *console) readPassword(label string) (string, bool) {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.printf("%s", label)
		b, err := term.ReadPassword(int(f.Fd()))
		c.println()
		if err != nil {
			c.printf("Error reading password: %v\n", err)
			return "", false
		}
		return strings.TrimSpace(string(b)), true
	}
	return c.prompt(label)
}

func (c *console) run() error {
	c.log.Info().Msg("library manager started")
	c.println("Welcome to the Library Manager.")

	for {
		c.println()
		c.println("Commands: create account, login, exit")
		cmd, ok := c.prompt("> ")
		if !ok {
			return nil
		}
		switch cmd {
		case "create account":
			c.handleCreateAccount()
		case "login":
			if c.handleLogin() {
				c.mainMenu()
				return nil
			}
		case "exit", "quit":
			c.println("Exiting...")
			c.log.Info().Msg("exiting library manager")
			return nil
		case "":
		default:
			c.log.Warn().Str("command", cmd).Msg("invalid menu choice")
			c.println("Please enter a valid option.")
		}
	}
}

func (c *console) handleCreateAccount() {
	bootstrap, err := c.mgr.NeedsBootstrap(c.ctx)
	if err != nil {
		c.printError(err)
		return
	}

	var authUser, authPass string
	if bootstrap {
		c.println("No accounts exist yet. Creating the first librarian account.")
	} else {
		c.println("To create a new account, please enter the user ID and password of an existing account owner.")
		var ok bool
		if authUser, ok = c.prompt("User ID - "); !ok {
			return
		}
		if authPass, ok = c.readPassword("User Password - "); !ok {
			return
		}
		valid, err := c.mgr.Authenticate(c.ctx, authUser, authPass)
		if err != nil {
			c.printError(err)
			return
		}
		if !valid {
			c.println("Authentication failed. Please try again.")
			return
		}
		c.println("\nPrevious user has been verified. Enter new user details:")
	}

	var l library.Librarian
	fields := []struct {
		label string
		dest  *string
	}{
		{"Name - ", &l.Name},
		{"Mobile Number - ", &l.MobileNo},
		{"Email ID - ", &l.Email},
		{"User ID - ", &l.Username},
		{"Role - ", &l.Role},
	}
	for _, f := range fields {
		v, ok := c.prompt(f.label)
		if !ok {
			return
		}
		*f.dest = v
	}
	password, ok := c.readPassword("Password - ")
	if !ok {
		return
	}

	if _, err := c.mgr.AddLibrarian(c.ctx, authUser, authPass, &l, password); err != nil {
		c.printError(err)
		return
	}
	c.println("New librarian has been added to the database.")
}

func (c *console) handleLogin() bool {
	c.println("Login Page:")
	user, ok := c.prompt("User ID - ")
	if !ok {
		return false
	}
	pass, ok := c.readPassword("User Password - ")
	if !ok {
		return false
	}
	valid, err := c.mgr.Authenticate(c.ctx, user, pass)
	if err != nil {
		c.printError(err)
		return false
	}
	if !valid {
		c.println("Invalid User ID or password. Please try again.")
		return false
	}
	c.log = c.log.With().Str("librarian", user).Logger()
	c.log.Info().Msg("logged in")
	c.println("Logged in successfully.")
	return true
}

func (c *console) mainMenu() {
	c.handleStats()

	for {
		c.println()
		c.println("Books: add book, remove book, update book, list books")
		c.println("Members: register member, delete member, list members")
		c.println("Circulation: issue, return, list loans, stats")
		c.println("System: exit")
		cmd, ok := c.prompt("> ")
		if !ok {
			return
		}
		c.log.Debug().Str("command", cmd).Msg("user selected option")

		switch cmd {
		case "add book":
			c.handleAddBook()
		case "remove book":
			c.handleRemoveBook()
		case "update book":
			c.handleUpdateBook()
		case "list books":
			c.handleListBooks()
		case "issue":
			c.handleIssue()
		case "return":
			c.handleReturn()
		case "list loans":
			c.handleListLoans()
		case "register member":
			c.handleRegisterMember()
		case "delete member":
			c.handleDeleteMember()
		case "list members":
			c.handleListMembers()
		case "stats":
			c.handleStats()
		case "exit", "quit":
			c.log.Info().Msg("user exiting the system")
			c.println("Exiting...")
			return
		case "":
		default:
			c.log.Warn().Str("command", cmd).Msg("invalid menu choice")
			c.println("Unknown command. Type one of the available commands listed above.")
		}
	}
}

// printError reports a failed operation and leaves the loop running.
func (c *console) printError(err error) {
	c.log.Error().Err(err).Msg("operation failed")
	switch {
	case errors.Is(err, library.ErrBookUnavailable):
		c.println("Book currently not available.")
	case errors.Is(err, library.ErrMemberNotFound):
		c.println("The customer is not a member. Please register the member first.")
	case errors.Is(err, library.ErrNoOpenLoan):
		c.println("No book issue record found.")
	case errors.Is(err, library.ErrNoConditions):
		c.printf("Nothing done: %v\n", err)
	case errors.Is(err, library.ErrStoreUnavailable):
		c.printf("Database error, nothing was changed: %v\n", err)
	default:
		c.printf("Error: %v\n", err)
	}
}

// readAssignments collects column:value tokens until "done".
func (c *console) readAssignments(kind string) ([]library.Assignment, bool) {
	var out []library.Assignment
	for {
		token, ok := c.prompt(fmt.Sprintf("Enter %s in format 'column:value' or type 'done' to finish: ", kind))
		if !ok {
			return nil, false
		}
		if strings.EqualFold(token, "done") {
			return out, true
		}
		a, err := library.ParseAssignment(token)
		if err != nil {
			c.println("Invalid format. Please use 'column:value'.")
			continue
		}
		out = append(out, a)
	}
}

func (c *console) handleAddBook() {
	c.println("Enter Book details - ")
	var b library.Book
	text := []struct {
		label string
		dest  *string
	}{
		{"ISBN number - ", &b.ISBN},
		{"Book name - ", &b.Name},
		{"Author's name - ", &b.Author},
		{"Publication - ", &b.Publication},
		{"Genre - ", &b.Genre},
		{"Language - ", &b.Language},
		{"Type of book - ", &b.Type},
		{"Description - ", &b.Description},
	}
	for _, f := range text {
		v, ok := c.prompt(f.label)
		if !ok {
			return
		}
		*f.dest = v
	}

	numbers := []struct {
		label string
		dest  *int
	}{
		{"Publication year (blank if unknown) - ", &b.PublicationYear},
		{"Pages (blank if unknown) - ", &b.Pages},
	}
	for _, f := range numbers {
		v, ok := c.prompt(f.label)
		if !ok {
			return
		}
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			c.printf("Invalid number: %s\n", v)
			return
		}
		*f.dest = n
	}

	v, ok := c.prompt("Number of copies - ")
	if !ok {
		return
	}
	copies, err := strconv.Atoi(v)
	if err != nil {
		c.printf("Invalid number of copies: %s\n", v)
		return
	}

	id, err := c.mgr.AddBook(c.ctx, &b, copies)
	if err != nil {
		c.printError(err)
		return
	}
	c.printf("Book added successfully! (ID: %d)\n", id)
}

func (c *console) handleRemoveBook() {
	conds, ok := c.readAssignments("condition")
	if !ok {
		return
	}
	n, err := c.mgr.RemoveBooks(c.ctx, conds)
	if err != nil {
		c.printError(err)
		return
	}
	if n > 0 {
		c.printf("%d record(s) deleted successfully.\n", n)
	} else {
		c.println("No records found with the given conditions.")
	}
}

func (c *console) handleUpdateBook() {
	conds, ok := c.readAssignments("condition")
	if !ok {
		return
	}
	updates, ok := c.readAssignments("update")
	if !ok {
		return
	}
	n, err := c.mgr.UpdateBooks(c.ctx, conds, updates)
	if err != nil {
		c.printError(err)
		return
	}
	if n > 0 {
		c.printf("%d record(s) updated successfully.\n", n)
	} else {
		c.println("No records found with the given conditions.")
	}
}

func (c *console) handleListBooks() {
	books, err := c.mgr.ListBooks(c.ctx)
	if err != nil {
		c.printError(err)
		return
	}
	if len(books) == 0 {
		c.println("No books in library.")
		return
	}
	c.printf("%-5s %-14s %-30s %-22s %-7s %-5s\n", "ID", "ISBN", "Name", "Author", "Copies", "Avail")
	c.println(strings.Repeat("-", 90))
	for _, b := range books {
		c.println(library.PrettyBook(b))
	}
}

func (c *console) handleIssue() {
	memberID, ok := c.promptID("Enter member ID: ")
	if !ok {
		return
	}
	bookID, ok := c.promptID("Enter book ID of the book: ")
	if !ok {
		return
	}
	rec, err := c.mgr.IssueBook(c.ctx, bookID, memberID)
	if err != nil {
		c.printError(err)
		return
	}
	c.printf("Book issued successfully. Due back on %s.\n", rec.DueDate.Format("2006-01-02"))
}

func (c *console) handleReturn() {
	memberID, ok := c.promptID("Enter member ID: ")
	if !ok {
		return
	}
	bookID, ok := c.promptID("Enter book ID of the book: ")
	if !ok {
		return
	}
	receipt, err := c.mgr.ReturnBook(c.ctx, bookID, memberID)
	if err != nil {
		c.printError(err)
		return
	}
	if receipt.Overdue() {
		c.printf("Book is overdue by %d days.\n", receipt.DaysOverdue)
		if receipt.Fine > 0 {
			c.printf("Fine due: %.2f\n", receipt.Fine)
		}
	}
	c.println("Book returned successfully.")
}

func (c *console) handleListLoans() {
	loans, err := c.mgr.ListOpenLoans(c.ctx)
	if err != nil {
		c.printError(err)
		return
	}
	if len(loans) == 0 {
		c.println("No books currently issued.")
		return
	}
	c.printf("%-5s %-30s %-22s %-12s %s\n", "ID", "Book", "Member", "Issued", "Due")
	c.println(strings.Repeat("-", 100))
	now := time.Now()
	for _, l := range loans {
		c.println(library.PrettyLoan(l, now))
	}
}

func (c *console) handleRegisterMember() {
	var m library.Member
	fields := []struct {
		label string
		dest  *string
	}{
		{"Enter member name: ", &m.Name},
		{"Enter mobile number: ", &m.MobileNo},
		{"Enter email address: ", &m.Email},
		{"Enter subscription type: ", &m.Subscription},
	}
	for _, f := range fields {
		v, ok := c.prompt(f.label)
		if !ok {
			return
		}
		*f.dest = v
	}
	id, err := c.mgr.RegisterMember(c.ctx, &m)
	if err != nil {
		c.printError(err)
		return
	}
	c.printf("Member added successfully. (ID: %d)\n", id)
}

func (c *console) handleDeleteMember() {
	id, ok := c.promptID("Enter member ID to delete: ")
	if !ok {
		return
	}
	if err := c.mgr.DeleteMember(c.ctx, id); err != nil {
		if errors.Is(err, library.ErrMemberNotFound) {
			c.println("No member found with the given ID.")
			return
		}
		c.printError(err)
		return
	}
	c.println("Member deleted successfully.")
}

func (c *console) handleListMembers() {
	members, err := c.mgr.ListMembers(c.ctx)
	if err != nil {
		c.printError(err)
		return
	}
	if len(members) == 0 {
		c.println("No members registered.")
		return
	}
	c.printf("%-5s %-25s %-12s %-28s %-12s %s\n", "ID", "Name", "Mobile", "Email", "Since", "Subscription")
	c.println(strings.Repeat("-", 100))
	for _, m := range members {
		c.printf("%-5d %-25s %-12s %-28s %-12s %s\n",
			m.ID, m.Name, m.MobileNo, m.Email, m.MembershipStartDate.Format("2006-01-02"), m.Subscription)
	}
}

func (c *console) handleStats() {
	stats, err := c.mgr.Stats(c.ctx)
	if err != nil {
		c.printError(err)
		return
	}
	printStats(c.out, stats)
}
