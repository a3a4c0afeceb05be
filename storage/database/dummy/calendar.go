package dummydb

import (
	"sort"

	"github.com/studylink/academy/core/calendar"
)

type calendarRepository struct {
	db *calendarTable
}

var _ calendar.Repository = (*calendarRepository)(nil) // interface compliance check

func NewCalendarRepository(db *DB) calendar.Repository {
	return &calendarRepository{db: db.calendar}
}

func (repo *calendarRepository) CreateEvent(e calendar.Event) (calendar.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.pkCount++
	e.ID = repo.db.pkCount
	repo.db.table[e.ID] = e
	return e, nil
}

func (repo *calendarRepository) QueryEvents(filter *calendar.QueryFilter) ([]calendar.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	events := make([]calendar.Event, 0)
	for _, e := range repo.db.table {
		if filter == nil || filter.Match(e) {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].StartDate != events[j].StartDate {
			return events[i].StartDate < events[j].StartDate
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (repo *calendarRepository) GetEventByID(id int) (calendar.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.db.table[id]; ok {
		return e, nil
	}
	return calendar.Event{}, calendar.ErrNotFound
}

func (repo *calendarRepository) UpdateEvent(e calendar.Event) (calendar.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[e.ID]; !ok {
		return calendar.Event{}, calendar.ErrNotFound
	}
	repo.db.table[e.ID] = e
	return e, nil
}

func (repo *calendarRepository) DeleteEvent(id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return calendar.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
