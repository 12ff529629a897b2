package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"blogcore/pkg/domain"
)

type pair [2]int64

type memoryData struct {
	nextID    int64
	users     map[int64]domain.User
	roles     map[int64]domain.Role
	perms     map[int64]domain.Permission
	userRoles map[pair]struct{}
	rolePerms map[pair]struct{}
	comments  map[int64]domain.Comment
	votes     map[int64]domain.CommentVote
	reports   map[int64]domain.CommentReport
	ipLog     []domain.IPRecord
}

func newMemoryData() *memoryData {
	return &memoryData{
		users:     make(map[int64]domain.User),
		roles:     make(map[int64]domain.Role),
		perms:     make(map[int64]domain.Permission),
		userRoles: make(map[pair]struct{}),
		rolePerms: make(map[pair]struct{}),
		comments:  make(map[int64]domain.Comment),
		votes:     make(map[int64]domain.CommentVote),
		reports:   make(map[int64]domain.CommentReport),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	c.nextID = d.nextID
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.roles {
		c.roles[k] = v
	}
	for k, v := range d.perms {
		c.perms[k] = v
	}
	for k := range d.userRoles {
		c.userRoles[k] = struct{}{}
	}
	for k := range d.rolePerms {
		c.rolePerms[k] = struct{}{}
	}
	for k, v := range d.comments {
		c.comments[k] = v
	}
	for k, v := range d.votes {
		c.votes[k] = v
	}
	for k, v := range d.reports {
		c.reports[k] = v
	}
	c.ipLog = append([]domain.IPRecord(nil), d.ipLog...)
	return c
}

func (d *memoryData) id() int64 {
	d.nextID++
	return d.nextID
}

// MemoryStore keeps all rows in-process. Transactions hold the store lock
// until commit or rollback, so they are fully serialized. The lock is a
// one-slot channel so waiters give up when their context ends.
type MemoryStore struct {
	sem  chan struct{}
	data *memoryData
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sem: make(chan struct{}, 1), data: newMemoryData()}
}

func (m *MemoryStore) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStore) release() { <-m.sem }

var errTxFinished = errors.New("transaction already finished")

type memoryTx struct {
	store    *MemoryStore
	snapshot *memoryData
	done     bool
}

func (t *memoryTx) Commit() error {
	if t.done {
		return errTxFinished
	}
	t.done = true
	t.snapshot = nil
	t.store.release()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.data = t.snapshot
	t.snapshot = nil
	t.store.release()
	return nil
}

// BeginTx waits for the store lock, bounded by ctx, and snapshots the data for rollback.
func (m *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	return &memoryTx{store: m, snapshot: m.data.clone()}, nil
}

// lock acquires the store unless ctx already holds it through a transaction.
func (m *MemoryStore) lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx, ok := CurrentTx(ctx); ok {
		if mt, ok := tx.(*memoryTx); ok && mt.store == m {
			if mt.done {
				return nil, errTxFinished
			}
			return func() {}, nil
		}
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	return m.release, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// CreateUser inserts a user, enforcing unique email and username.
func (m *MemoryStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer unlock()
	for _, existing := range m.data.users {
		if existing.Email == u.Email {
			return domain.User{}, ErrDuplicateEmail
		}
		if existing.Username == u.Username {
			return domain.User{}, ErrDuplicateUsername
		}
	}
	ts := nowUTC()
	u.ID = m.data.id()
	u.CreatedAt = ts
	u.UpdatedAt = ts
	m.data.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	defer unlock()
	u, ok := m.data.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return m.findUser(ctx, func(u domain.User) bool { return u.Email == email })
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	return m.findUser(ctx, func(u domain.User) bool { return u.Username == username })
}

func (m *MemoryStore) findUser(ctx context.Context, match func(domain.User) bool) (domain.User, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	defer unlock()
	for _, u := range m.data.users {
		if match(u) {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	return m.updateUser(ctx, id, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (m *MemoryStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return m.updateUser(ctx, id, func(u *domain.User) { u.LastLoginAt = &at })
}

func (m *MemoryStore) updateUser(ctx context.Context, id int64, apply func(*domain.User)) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	u, ok := m.data.users[id]
	if !ok {
		return ErrNotFound
	}
	apply(&u)
	u.UpdatedAt = nowUTC()
	m.data.users[id] = u
	return nil
}

// DeleteUser removes a user with its role links, votes, reports and comments.
func (m *MemoryStore) DeleteUser(ctx context.Context, id int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := m.data.users[id]; !ok {
		return ErrNotFound
	}
	for k := range m.data.userRoles {
		if k[0] == id {
			delete(m.data.userRoles, k)
		}
	}
	for vid, v := range m.data.votes {
		if v.UserID == id {
			m.data.applyVoteDelta(v.CommentID, v.Type, -1)
			delete(m.data.votes, vid)
		}
	}
	for rid, r := range m.data.reports {
		if r.UserID == id {
			if c, ok := m.data.comments[r.CommentID]; ok && c.ReportCount > 0 {
				c.ReportCount--
				m.data.comments[r.CommentID] = c
			}
			delete(m.data.reports, rid)
		}
	}
	for cid, c := range m.data.comments {
		if c.AuthorID == id {
			m.data.deleteCommentTree(cid)
		}
	}
	delete(m.data.users, id)
	return nil
}

func (d *memoryData) applyVoteDelta(commentID int64, t domain.VoteType, delta int) {
	c, ok := d.comments[commentID]
	if !ok {
		return
	}
	if t == domain.VoteUp {
		c.UpVotes = max(c.UpVotes+delta, 0)
	} else {
		c.DownVotes = max(c.DownVotes+delta, 0)
	}
	d.comments[commentID] = c
}

func (d *memoryData) deleteCommentTree(id int64) {
	if _, ok := d.comments[id]; !ok {
		return
	}
	delete(d.comments, id)
	for vid, v := range d.votes {
		if v.CommentID == id {
			delete(d.votes, vid)
		}
	}
	for rid, r := range d.reports {
		if r.CommentID == id {
			delete(d.reports, rid)
		}
	}
	for cid, c := range d.comments {
		if c.ParentID != nil && *c.ParentID == id {
			d.deleteCommentTree(cid)
		}
	}
}

func (m *MemoryStore) EnsureRole(ctx context.Context, name, description string) (domain.Role, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	defer unlock()
	if r, ok := m.data.roleByName(name); ok {
		return r, nil
	}
	r := domain.Role{ID: m.data.id(), Name: name, Description: description, CreatedAt: nowUTC()}
	m.data.roles[r.ID] = r
	return r, nil
}

func (d *memoryData) roleByName(name string) (domain.Role, bool) {
	for _, r := range d.roles {
		if r.Name == name {
			return r, true
		}
	}
	return domain.Role{}, false
}

func (m *MemoryStore) GetRoleByName(ctx context.Context, name string) (domain.Role, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Role{}, false, err
	}
	defer unlock()
	r, ok := m.data.roleByName(name)
	return r, ok, nil
}

func (m *MemoryStore) EnsurePermission(ctx context.Context, name, description string) (domain.Permission, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Permission{}, err
	}
	defer unlock()
	for _, p := range m.data.perms {
		if p.Name == name {
			return p, nil
		}
	}
	p := domain.Permission{ID: m.data.id(), Name: name, Description: description, CreatedAt: nowUTC()}
	m.data.perms[p.ID] = p
	return p, nil
}

// GrantPermission links a permission to a role. Existing links are kept.
func (m *MemoryStore) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := m.data.roles[roleID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.data.perms[permissionID]; !ok {
		return ErrNotFound
	}
	m.data.rolePerms[pair{roleID, permissionID}] = struct{}{}
	return nil
}

func (m *MemoryStore) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	delete(m.data.rolePerms, pair{roleID, permissionID})
	return nil
}

func (m *MemoryStore) GetRoleByID(ctx context.Context, id int64) (domain.Role, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Role{}, false, err
	}
	defer unlock()
	r, ok := m.data.roles[id]
	return r, ok, nil
}

func (m *MemoryStore) CreateRole(ctx context.Context, name, description string) (domain.Role, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	defer unlock()
	if _, ok := m.data.roleByName(name); ok {
		return domain.Role{}, ErrDuplicate
	}
	r := domain.Role{ID: m.data.id(), Name: name, Description: description, CreatedAt: nowUTC()}
	m.data.roles[r.ID] = r
	return r, nil
}

func (m *MemoryStore) UpdateRole(ctx context.Context, r domain.Role) (domain.Role, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	defer unlock()
	cur, ok := m.data.roles[r.ID]
	if !ok {
		return domain.Role{}, ErrNotFound
	}
	if other, ok := m.data.roleByName(r.Name); ok && other.ID != r.ID {
		return domain.Role{}, ErrDuplicate
	}
	cur.Name = r.Name
	cur.Description = r.Description
	m.data.roles[r.ID] = cur
	return cur, nil
}

// DeleteRole removes a role with its user and permission links.
func (m *MemoryStore) DeleteRole(ctx context.Context, id int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := m.data.roles[id]; !ok {
		return ErrNotFound
	}
	for k := range m.data.userRoles {
		if k[1] == id {
			delete(m.data.userRoles, k)
		}
	}
	for k := range m.data.rolePerms {
		if k[0] == id {
			delete(m.data.rolePerms, k)
		}
	}
	delete(m.data.roles, id)
	return nil
}

func (m *MemoryStore) ListRoles(ctx context.Context, q domain.ListQuery) ([]domain.Role, int64, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	all := make([]domain.Role, 0, len(m.data.roles))
	for _, r := range m.data.roles {
		all = append(all, r)
	}
	sortRows(all, q, func(r domain.Role) sortKey { return sortKey{r.ID, r.Name, r.CreatedAt, 0} })
	return pageOf(all, q), int64(len(all)), nil
}

func (m *MemoryStore) GetPermissionByID(ctx context.Context, id int64) (domain.Permission, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Permission{}, false, err
	}
	defer unlock()
	p, ok := m.data.perms[id]
	return p, ok, nil
}

func (m *MemoryStore) GetPermissionByName(ctx context.Context, name string) (domain.Permission, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Permission{}, false, err
	}
	defer unlock()
	p, ok := m.data.permissionByName(name)
	return p, ok, nil
}

func (d *memoryData) permissionByName(name string) (domain.Permission, bool) {
	for _, p := range d.perms {
		if p.Name == name {
			return p, true
		}
	}
	return domain.Permission{}, false
}

func (m *MemoryStore) CreatePermission(ctx context.Context, name, description string) (domain.Permission, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Permission{}, err
	}
	defer unlock()
	if _, ok := m.data.permissionByName(name); ok {
		return domain.Permission{}, ErrDuplicate
	}
	p := domain.Permission{ID: m.data.id(), Name: name, Description: description, CreatedAt: nowUTC()}
	m.data.perms[p.ID] = p
	return p, nil
}

func (m *MemoryStore) UpdatePermission(ctx context.Context, p domain.Permission) (domain.Permission, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Permission{}, err
	}
	defer unlock()
	cur, ok := m.data.perms[p.ID]
	if !ok {
		return domain.Permission{}, ErrNotFound
	}
	if other, ok := m.data.permissionByName(p.Name); ok && other.ID != p.ID {
		return domain.Permission{}, ErrDuplicate
	}
	cur.Name = p.Name
	cur.Description = p.Description
	m.data.perms[p.ID] = cur
	return cur, nil
}

func (m *MemoryStore) DeletePermission(ctx context.Context, id int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := m.data.perms[id]; !ok {
		return ErrNotFound
	}
	for k := range m.data.rolePerms {
		if k[1] == id {
			delete(m.data.rolePerms, k)
		}
	}
	delete(m.data.perms, id)
	return nil
}

func (m *MemoryStore) ListPermissions(ctx context.Context, q domain.ListQuery) ([]domain.Permission, int64, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	all := make([]domain.Permission, 0, len(m.data.perms))
	for _, p := range m.data.perms {
		all = append(all, p)
	}
	sortRows(all, q, func(p domain.Permission) sortKey { return sortKey{p.ID, p.Name, p.CreatedAt, 0} })
	return pageOf(all, q), int64(len(all)), nil
}

type sortKey struct {
	id      int64
	name    string
	created time.Time
	upvotes int
}

// sortRows orders rows the way the SQL store does: by the requested field,
// then by id in the same direction.
func sortRows[T any](rows []T, q domain.ListQuery, key func(T) sortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := key(rows[i]), key(rows[j])
		if q.Desc {
			a, b = b, a
		}
		switch q.SortBy {
		case domain.SortName:
			if a.name != b.name {
				return a.name < b.name
			}
		case domain.SortCreatedAt:
			if !a.created.Equal(b.created) {
				return a.created.Before(b.created)
			}
		case domain.SortUpVotes:
			if a.upvotes != b.upvotes {
				return a.upvotes < b.upvotes
			}
		}
		return a.id < b.id
	})
}

func pageOf[T any](rows []T, q domain.ListQuery) []T {
	start := min(max(q.Offset(), 0), len(rows))
	end := min(start+q.PageSize, len(rows))
	return append([]T(nil), rows[start:end]...)
}

func (m *MemoryStore) HasUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	_, ok := m.data.userRoles[pair{userID, roleID}]
	return ok, nil
}

func (m *MemoryStore) AddUserRole(ctx context.Context, userID, roleID int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := m.data.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.data.roles[roleID]; !ok {
		return ErrNotFound
	}
	key := pair{userID, roleID}
	if _, ok := m.data.userRoles[key]; ok {
		return ErrDuplicate
	}
	m.data.userRoles[key] = struct{}{}
	return nil
}

func (m *MemoryStore) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	delete(m.data.userRoles, pair{userID, roleID})
	return nil
}

func (m *MemoryStore) ListUserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	names := make([]string, 0)
	for k := range m.data.userRoles {
		if k[0] != userID {
			continue
		}
		if r, ok := m.data.roles[k[1]]; ok {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) ListRolePermissionNames(ctx context.Context, roleName string) ([]string, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	role, ok := m.data.roleByName(roleName)
	if !ok {
		return []string{}, nil
	}
	names := make([]string, 0)
	for k := range m.data.rolePerms {
		if k[0] != role.ID {
			continue
		}
		if p, ok := m.data.perms[k[1]]; ok {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Comment{}, err
	}
	defer unlock()
	if _, ok := m.data.users[c.AuthorID]; !ok {
		return domain.Comment{}, ErrNotFound
	}
	if c.ParentID != nil {
		if _, ok := m.data.comments[*c.ParentID]; !ok {
			return domain.Comment{}, ErrNotFound
		}
	}
	ts := nowUTC()
	c.ID = m.data.id()
	c.CreatedAt = ts
	c.UpdatedAt = ts
	m.data.comments[c.ID] = c
	return c, nil
}

func (m *MemoryStore) GetComment(ctx context.Context, id int64) (domain.Comment, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.Comment{}, false, err
	}
	defer unlock()
	c, ok := m.data.comments[id]
	return c, ok, nil
}

// LockComment is GetComment; the store lock already serializes writers.
func (m *MemoryStore) LockComment(ctx context.Context, id int64) (domain.Comment, bool, error) {
	return m.GetComment(ctx, id)
}

func (m *MemoryStore) SetCommentStatus(ctx context.Context, id int64, status domain.CommentStatus) error {
	return m.updateComment(ctx, id, func(c *domain.Comment) { c.Status = status })
}

func (m *MemoryStore) UpdateCommentContent(ctx context.Context, id int64, content string) error {
	return m.updateComment(ctx, id, func(c *domain.Comment) { c.Content = content })
}

func (m *MemoryStore) ListRootComments(ctx context.Context, q domain.CommentQuery) ([]domain.Comment, int64, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	roots := make([]domain.Comment, 0)
	for _, c := range m.data.comments {
		if c.ArticleID != q.ArticleID || c.ParentID != nil {
			continue
		}
		if q.Status != "" && c.Status != q.Status {
			continue
		}
		roots = append(roots, c)
	}
	sortRows(roots, q.ListQuery, commentSortKey)
	return pageOf(roots, q.ListQuery), int64(len(roots)), nil
}

func (m *MemoryStore) ListReplies(ctx context.Context, articleID int64, status domain.CommentStatus) ([]domain.Comment, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	replies := make([]domain.Comment, 0)
	for _, c := range m.data.comments {
		if c.ArticleID != articleID || c.ParentID == nil {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		replies = append(replies, c)
	}
	sortRows(replies, domain.ListQuery{SortBy: domain.SortCreatedAt}, commentSortKey)
	return replies, nil
}

func commentSortKey(c domain.Comment) sortKey {
	return sortKey{c.ID, "", c.CreatedAt, c.UpVotes}
}

func (m *MemoryStore) DeleteComment(ctx context.Context, id int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := m.data.comments[id]; !ok {
		return ErrNotFound
	}
	m.data.deleteCommentTree(id)
	return nil
}

func (m *MemoryStore) AdjustCommentVotes(ctx context.Context, id int64, upDelta, downDelta int) error {
	return m.updateComment(ctx, id, func(c *domain.Comment) {
		c.UpVotes = max(c.UpVotes+upDelta, 0)
		c.DownVotes = max(c.DownVotes+downDelta, 0)
	})
}

func (m *MemoryStore) IncrementCommentReports(ctx context.Context, id int64) error {
	return m.updateComment(ctx, id, func(c *domain.Comment) { c.ReportCount++ })
}

func (m *MemoryStore) updateComment(ctx context.Context, id int64, apply func(*domain.Comment)) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	c, ok := m.data.comments[id]
	if !ok {
		return ErrNotFound
	}
	apply(&c)
	c.UpdatedAt = nowUTC()
	m.data.comments[id] = c
	return nil
}

func (m *MemoryStore) CommentStatistics(ctx context.Context) (domain.CommentStats, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.CommentStats{}, err
	}
	defer unlock()
	var stats domain.CommentStats
	for _, c := range m.data.comments {
		stats.Total++
		switch c.Status {
		case domain.CommentPending:
			stats.Pending++
		case domain.CommentApproved:
			stats.Approved++
		case domain.CommentRejected:
			stats.Rejected++
		}
		if c.ReportCount > 0 {
			stats.Reported++
		}
	}
	return stats, nil
}

func (m *MemoryStore) GetCommentVote(ctx context.Context, commentID, userID int64) (domain.CommentVote, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.CommentVote{}, false, err
	}
	defer unlock()
	for _, v := range m.data.votes {
		if v.CommentID == commentID && v.UserID == userID {
			return v, true, nil
		}
	}
	return domain.CommentVote{}, false, nil
}

func (m *MemoryStore) CreateCommentVote(ctx context.Context, v domain.CommentVote) (domain.CommentVote, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.CommentVote{}, err
	}
	defer unlock()
	if _, ok := m.data.comments[v.CommentID]; !ok {
		return domain.CommentVote{}, ErrNotFound
	}
	for _, existing := range m.data.votes {
		if existing.CommentID == v.CommentID && existing.UserID == v.UserID {
			return domain.CommentVote{}, ErrDuplicate
		}
	}
	ts := nowUTC()
	v.ID = m.data.id()
	v.CreatedAt = ts
	v.UpdatedAt = ts
	m.data.votes[v.ID] = v
	return v, nil
}

func (m *MemoryStore) UpdateCommentVoteType(ctx context.Context, id int64, t domain.VoteType) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	v, ok := m.data.votes[id]
	if !ok {
		return ErrNotFound
	}
	v.Type = t
	v.UpdatedAt = nowUTC()
	m.data.votes[id] = v
	return nil
}

func (m *MemoryStore) DeleteCommentVote(ctx context.Context, id int64) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := m.data.votes[id]; !ok {
		return ErrNotFound
	}
	delete(m.data.votes, id)
	return nil
}

func (m *MemoryStore) CountCommentVotes(ctx context.Context, commentID int64) (int, int, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer unlock()
	up, down := 0, 0
	for _, v := range m.data.votes {
		if v.CommentID != commentID {
			continue
		}
		if v.Type == domain.VoteUp {
			up++
		} else {
			down++
		}
	}
	return up, down, nil
}

func (m *MemoryStore) GetCommentReport(ctx context.Context, commentID, userID int64) (domain.CommentReport, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.CommentReport{}, false, err
	}
	defer unlock()
	for _, r := range m.data.reports {
		if r.CommentID == commentID && r.UserID == userID {
			return r, true, nil
		}
	}
	return domain.CommentReport{}, false, nil
}

func (m *MemoryStore) CreateCommentReport(ctx context.Context, r domain.CommentReport) (domain.CommentReport, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.CommentReport{}, err
	}
	defer unlock()
	if _, ok := m.data.comments[r.CommentID]; !ok {
		return domain.CommentReport{}, ErrNotFound
	}
	for _, existing := range m.data.reports {
		if existing.CommentID == r.CommentID && existing.UserID == r.UserID {
			return domain.CommentReport{}, ErrDuplicate
		}
	}
	ts := nowUTC()
	r.ID = m.data.id()
	r.CreatedAt = ts
	r.UpdatedAt = ts
	m.data.reports[r.ID] = r
	return r, nil
}

func (m *MemoryStore) UpdateCommentReport(ctx context.Context, id int64, reason domain.ReportReason, description string) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	r, ok := m.data.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.Reason = reason
	r.Description = description
	r.UpdatedAt = nowUTC()
	m.data.reports[id] = r
	return nil
}

// LatestIPBan returns the most recent banned row for ip.
func (m *MemoryStore) LatestIPBan(ctx context.Context, ip string) (domain.IPRecord, bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return domain.IPRecord{}, false, err
	}
	defer unlock()
	for i := len(m.data.ipLog) - 1; i >= 0; i-- {
		rec := m.data.ipLog[i]
		if rec.IP == ip && rec.IsBanned {
			return rec, true, nil
		}
	}
	return domain.IPRecord{}, false, nil
}

func (m *MemoryStore) AppendIPRecord(ctx context.Context, ip string, at time.Time) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	ts := nowUTC()
	m.data.ipLog = append(m.data.ipLog, domain.IPRecord{
		ID:          m.data.id(),
		IP:          ip,
		RequestTime: at.UTC(),
		CreatedAt:   ts,
		UpdatedAt:   ts,
	})
	return nil
}

func (m *MemoryStore) CountIPRecordsSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	var count int64
	for _, rec := range m.data.ipLog {
		if rec.IP == ip && rec.RequestTime.After(since) {
			count++
		}
	}
	return count, nil
}

// BanIP marks every unbanned row of ip as banned until the given time.
func (m *MemoryStore) BanIP(ctx context.Context, ip, reason string, until time.Time) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	until = until.UTC()
	ts := nowUTC()
	for i := range m.data.ipLog {
		rec := &m.data.ipLog[i]
		if rec.IP != ip || rec.IsBanned {
			continue
		}
		rec.IsBanned = true
		rec.BanReason = reason
		expiry := until
		rec.BanExpireAt = &expiry
		rec.UpdatedAt = ts
	}
	return nil
}

// ClearIPBan resets the ban fields on every banned row of ip.
func (m *MemoryStore) ClearIPBan(ctx context.Context, ip string) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	ts := nowUTC()
	for i := range m.data.ipLog {
		rec := &m.data.ipLog[i]
		if rec.IP != ip || !rec.IsBanned {
			continue
		}
		rec.IsBanned = false
		rec.BanReason = ""
		rec.BanExpireAt = nil
		rec.UpdatedAt = ts
	}
	return nil
}
