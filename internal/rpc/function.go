package rpc

import (
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// Call is what a function hook receives.
type Call struct {
	Entity   *entity.Entity
	Function *Function
	Caller   entity.ConnID // ServerConn for server-originated calls
	Args     []packet.Value
}

// Function is a remotely invokable member of an entity. Its slot in the
// member table is its function id.
type Function struct {
	Name      string
	Params    []packet.Param
	AnyCaller bool // callable by non-owners when forwarded through the server
	Hook      func(c Call)

	owner *entity.Entity
	id    uint8
}

// NewFunction declares a function; add it with Entity.AddMember.
func NewFunction(name string, params []packet.Param, hook func(Call)) *Function {
	return &Function{Name: name, Params: params, Hook: hook}
}

func (f *Function) Bind(e *entity.Entity, id uint8) { f.owner, f.id = e, id }

// ID returns the function id within its entity.
func (f *Function) ID() uint8 { return f.id }

// Entity returns the owning entity.
func (f *Function) Entity() *entity.Entity { return f.owner }

func (f *Function) invoke(caller entity.ConnID, args []packet.Value) {
	if f.Hook == nil {
		return
	}
	f.Hook(Call{Entity: f.owner, Function: f, Caller: caller, Args: args})
}
