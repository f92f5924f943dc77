// Package virtual is a built-in module of simulated devices.
//
// Devices are declared in the module options:
//
//	modules:
//	  load:
//	    - name: demo
//	      driver: virtual
//	      options:
//	        devices:
//	          - id: hall-light
//	            kind: switch
//	          - id: lounge-dimmer
//	            kind: dimmer
//	            name: Lounge dimmer
//	            username: admin
//	            password: secret
//
// Discover announces every declared device that is not yet online. A
// device with a password demands user authentication; OAuth is configured
// per module name under oauth.providers and needs nothing here.
package virtual
