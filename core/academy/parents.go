package academy

import (
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
)

// ParentProfile returns the children of the parent, empty if none were linked.
func (svc *Service) ParentProfile(userID int) (ParentProfile, error) {
	var p ParentProfile
	err := svc.repo.View(func(tx Tx) error {
		p = parentProfile(tx, userID)
		return nil
	})
	return p, err
}

// SetParentChildren replaces the children of a parent. Every child must be an existing student;
// duplicates are dropped.
func (svc *Service) SetParentChildren(parentID int, childIDs []int) (ParentProfile, error) {
	if _, err := svc.member(parentID, user.RoleParent, "parent_id"); err != nil {
		return ParentProfile{}, err
	}
	children, err := svc.studentSummaries(childIDs)
	if err != nil {
		return ParentProfile{}, err
	}

	p := ParentProfile{UserID: parentID, ChildIDs: make([]int, 0, len(children))}
	for _, c := range children {
		p.ChildIDs = append(p.ChildIDs, c.ID)
	}
	err = svc.update(func(tx Tx, cs *changeSet) error {
		tx.PutParentProfile(p)
		cs.add(event.Updated, event.Parent, parentID, p)
		return nil
	})
	return p, err
}

// IsParentOf reports whether childID is linked to the parent.
func (svc *Service) IsParentOf(parentID, childID int) (bool, error) {
	p, err := svc.ParentProfile(parentID)
	if err != nil {
		return false, err
	}
	return p.HasChild(childID), nil
}
