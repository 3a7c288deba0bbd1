package model_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/okian/birdscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRoleAndIdentity(t *testing.T) {
	Convey("Given role strings", t, func() {
		r, err := model.ParseRole(" Admin ")
		So(err, ShouldBeNil)
		So(r, ShouldEqual, model.RoleAdmin)

		_, err = model.ParseRole("user")
		So(err, ShouldNotBeNil)
	})

	Convey("Given an identity", t, func() {
		id := model.Identity{Username: "judge1", Role: model.RoleJudge, Token: "t1"}

		Convey("Then it is valid and persists without its token", func() {
			So(id.Valid(), ShouldBeTrue)
			So(id.IsAdmin(), ShouldBeFalse)
			b, err := json.Marshal(id.Persisted())
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `{"username":"judge1","role":"judge"}`)
		})

		Convey("Then missing parts make it invalid", func() {
			So(model.Identity{Username: "judge1", Role: model.RoleJudge}.Valid(), ShouldBeFalse)
			So(model.Identity{Username: " ", Role: model.RoleJudge, Token: "t"}.Valid(), ShouldBeFalse)
			So(model.Identity{Username: "a", Role: "user", Token: "t"}.Valid(), ShouldBeFalse)
		})

		Convey("Then credentials never print the password", func() {
			c := model.Credentials{Username: "judge1", Password: "pw123"}
			So(c.String(), ShouldNotContainSubstring, "pw123")
		})
	})
}

func TestStatusTransitions(t *testing.T) {
	Convey("Given session statuses", t, func() {
		So(model.StatusSetup.CanMoveTo(model.StatusActive), ShouldBeTrue)
		So(model.StatusActive.CanMoveTo(model.StatusCompleted), ShouldBeTrue)
		So(model.StatusSetup.CanMoveTo(model.StatusCompleted), ShouldBeTrue)
		So(model.StatusCompleted.CanMoveTo(model.StatusActive), ShouldBeFalse)
		So(model.StatusActive.CanMoveTo(model.StatusSetup), ShouldBeFalse)
		So(model.StatusSetup.CanMoveTo("paused"), ShouldBeFalse)
	})
}

func TestSessionCloneAndSnapshot(t *testing.T) {
	Convey("Given a session with one round", t, func() {
		s := &model.CompetitionSession{
			SessionID:    "BIRD-A01-1767225600000-AB12C",
			TotalRounds:  model.TotalRounds,
			CurrentRound: 2,
			Status:       model.StatusActive,
			Rounds:       []model.Round{{RoundNo: 1, Score: json.RawMessage(`{"total_score":7}`)}},
		}

		Convey("When the snapshot is taken and the session then mutates", func() {
			snap := s.Snapshot()
			s.Rounds[0].Score[2] = 'X'
			s.Rounds = append(s.Rounds, model.Round{RoundNo: 2})
			s.CurrentRound = 3

			Convey("Then the snapshot is unaffected", func() {
				So(snap.CurrentRound, ShouldEqual, 2)
				So(snap.Rounds, ShouldHaveLength, 1)
				So(string(snap.Rounds[0].Score), ShouldEqual, `{"total_score":7}`)
			})
		})

		Convey("Then CanAdvance accepts only the current round", func() {
			So(s.CanAdvance(2), ShouldBeTrue)
			So(s.CanAdvance(1), ShouldBeFalse)
			So(s.CanAdvance(3), ShouldBeFalse)
		})

		Convey("Then a session whose status already moved past active takes no round", func() {
			s.Status = model.StatusCompleted
			So(s.CanAdvance(2), ShouldBeFalse)
		})
	})
}

func TestErrorTaxonomy(t *testing.T) {
	Convey("Given typed errors", t, func() {
		v := model.NewValidationError("matchName", "must not be empty")
		So(errors.Is(v, model.ErrValidation), ShouldBeTrue)
		So(v.Error(), ShouldEqual, "matchName: must not be empty")

		var ve *model.ValidationError
		So(errors.As(v, &ve), ShouldBeTrue)
		So(ve.Field, ShouldEqual, "matchName")

		a := &model.AuthError{Reason: model.InvalidCredentials}
		So(errors.Is(a, model.ErrAuth), ShouldBeTrue)
		So((&model.AuthError{}).Error(), ShouldEqual, model.ErrAuth.Error())

		s := &model.SequenceError{SessionID: "x", Expected: 2, Got: 3, SessionState: model.StatusActive}
		So(errors.Is(s, model.ErrSequence), ShouldBeTrue)
		So(s.Error(), ShouldContainSubstring, "expects round 2, got 3")

		cause := errors.New("connection refused")
		tr := &model.TransportError{Op: "authenticate", Err: cause}
		So(errors.Is(tr, model.ErrTransport), ShouldBeTrue)
		So(errors.Is(tr, cause), ShouldBeTrue)
		So(model.IsRetryable(tr), ShouldBeTrue)
		So(model.IsRetryable(s), ShouldBeFalse)
	})
}
