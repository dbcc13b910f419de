/*
Package hub models the hosting session/auth collaborator.

The hub owns user identity and decides when services start and stop;
this package carries what it hands over per start call (the Session)
and computes the environment every spawned service needs to find its
way back: the JPY_* variables, including a hub API URL whose host is
rewritten to the hub's own service name so the service reaches the hub
through cluster service discovery rather than a raw address.
*/
package hub
