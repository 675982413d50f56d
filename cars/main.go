package cars

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/shirei"
)

var ErrUnknownTrain = errors.New("no formation bound to train slot")

type Data struct {
	Forms map[uuid.UUID]Form `json:"forms"` // json struct tag isn't actually used but kept for docs purposes
}

type dataJSON struct {
	Forms map[string]Form `json:"forms"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	d3 := dataJSON{Forms: map[string]Form{}}
	for key, f := range d.Forms {
		d3.Forms[key.String()] = f
	}
	return json.Marshal(d3)
}

func (d *Data) UnmarshalJSON(data []byte) error {
	var d3 dataJSON
	err := json.Unmarshal(data, &d3)
	if err != nil {
		return err
	}
	d2 := Data{Forms: map[uuid.UUID]Form{}}
	for key, f := range d3.Forms {
		u2, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("key %s: parse key as UUID: %w", key, err)
		}
		d2.Forms[u2] = f
	}
	*d = d2
	return nil
}

// Form represents a single formation (the physical train).
type Form struct {
	Comment string `json:"comment"`
	// Slot is the train slot this formation runs as. 0 means the formation is not on the layout.
	Slot TrainID `json:"slot"`
	// Length of the whole formation in mm.
	// This may not be the sum of the car's individual lengths due to couplers, etc.
	Length uint32 `json:"length"`
	Class  Class  `json:"class"`
	Cars   []Car  `json:"cars"`
}

type Car struct {
	Comment string `json:"comment"`
	// Length of the car in mm.
	Length uint32 `json:"length"`
}

// CarsLength sums the lengths of the cars without couplers.
func (f Form) CarsLength() uint32 {
	var sum uint32
	for _, c := range f.Cars {
		sum += c.Length
	}
	return sum
}

type slotForm struct {
	id   uuid.UUID
	form Form
}

// Roster looks up formations by the train slot they run as.
type Roster struct {
	forms []slotForm
}

func NewRoster(d Data) (*Roster, error) {
	r := &Roster{forms: make([]slotForm, 0, len(d.Forms))}
	// in key order, so that errors name the same forms every time
	keys := make([]string, 0, len(d.Forms))
	for id := range d.Forms {
		keys = append(keys, id.String())
	}
	slices.Sort(keys)
	for _, key := range keys {
		id := uuid.MustParse(key)
		f := d.Forms[id]
		if f.Slot == 0 {
			continue
		}
		if i := r.find(f.Slot); i != -1 {
			return nil, fmt.Errorf("form %s: slot %d already used by form %s", id, f.Slot, r.forms[i].id)
		}
		if f.Length < f.CarsLength() {
			return nil, fmt.Errorf("form %s: length %d shorter than its cars (%d)", id, f.Length, f.CarsLength())
		}
		r.forms = append(r.forms, slotForm{id, f})
	}
	return r, nil
}

// Returns -1 if nonexistent.
func (r *Roster) find(slot TrainID) int {
	return slices.IndexFunc(r.forms, func(sf slotForm) bool { return sf.form.Slot == slot })
}

func (r *Roster) Form(slot TrainID) (uuid.UUID, Form, error) {
	i := r.find(slot)
	if i == -1 {
		return uuid.UUID{}, Form{}, fmt.Errorf("train %s: %w", slot, ErrUnknownTrain)
	}
	return r.forms[i].id, r.forms[i].form, nil
}

func (r *Roster) Length(slot TrainID) (uint32, error) {
	_, f, err := r.Form(slot)
	return f.Length, err
}

func (r *Roster) Class(slot TrainID) (Class, error) {
	_, f, err := r.Form(slot)
	return f.Class, err
}
